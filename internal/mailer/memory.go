package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// MemorySender records messages instead of sending them.
type MemorySender struct {
	mu       sync.Mutex
	messages []Message
	counter  int
	failWith error
}

// NewMemorySender creates an empty recorder.
func NewMemorySender() *MemorySender {
	return &MemorySender{}
}

// Send records msg, or returns the configured failure.
func (m *MemorySender) Send(_ context.Context, msg Message) (string, error) {
	if strings.TrimSpace(msg.To) == "" {
		return "", ErrNoRecipient
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return "", m.failWith
	}
	m.counter++
	m.messages = append(m.messages, msg)
	return fmt.Sprintf("msg_%06d", m.counter), nil
}

// FailWith makes subsequent sends return err; nil restores delivery.
func (m *MemorySender) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// Messages returns a copy of the recorded messages.
func (m *MemorySender) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Count returns how many messages were recorded.
func (m *MemorySender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// LogSender writes messages to the log, for local development.
type LogSender struct {
	logger *slog.Logger
	memory *MemorySender
}

// NewLogSender creates a sender that logs every message.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger, memory: NewMemorySender()}
}

// Send logs msg and keeps it in memory.
func (l *LogSender) Send(ctx context.Context, msg Message) (string, error) {
	id, err := l.memory.Send(ctx, msg)
	if err != nil {
		return "", err
	}
	l.logger.Info("email", "message_id", id, "to", msg.To, "subject", msg.Subject)
	l.logger.Debug("email body", "message_id", id, "html", msg.HTML)
	return id, nil
}

// Messages returns what was logged so far.
func (l *LogSender) Messages() []Message {
	return l.memory.Messages()
}
