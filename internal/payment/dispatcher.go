package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Delivery records one webhook delivery attempt.
type Delivery struct {
	EventID    string    `json:"event_id"`
	URL        string    `json:"url"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	Timestamp  time.Time `json:"timestamp"`
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	URL        string
	Secret     string
	Signer     Signer
	Logger     *slog.Logger
	MaxRetries int
	RetryDelay time.Duration
	Client     *http.Client
}

// Dispatcher delivers signed webhook payloads with retries, the way the
// processor does.
type Dispatcher struct {
	mu         sync.RWMutex
	url        string
	secret     string
	signer     Signer
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
	deliveries []Delivery
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Signer == nil {
		cfg.Signer = NewStripeSigner()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{
		url:        cfg.URL,
		secret:     cfg.Secret,
		signer:     cfg.Signer,
		logger:     cfg.Logger,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     cfg.Client,
	}
}

// SetURL updates the delivery URL.
func (d *Dispatcher) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Deliver posts payload until a 2xx response or the retries run out.
func (d *Dispatcher) Deliver(ctx context.Context, eventID string, payload []byte) error {
	d.mu.RLock()
	url := d.url
	d.mu.RUnlock()

	if url == "" {
		d.logger.Debug("no webhook URL configured, skipping delivery", "event_id", eventID)
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range d.signer.Sign(payload, d.secret) {
			req.Header.Set(k, v)
		}

		delivery := Delivery{EventID: eventID, URL: url, Attempt: attempt, Timestamp: time.Now()}
		resp, err := d.client.Do(req)
		if err != nil {
			delivery.Error = err.Error()
			lastErr = err
		} else {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			delivery.StatusCode = resp.StatusCode
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				d.record(delivery)
				return nil
			}
			lastErr = fmt.Errorf("webhook delivery failed: status %d", resp.StatusCode)
		}
		d.record(delivery)
		d.logger.Warn("webhook delivery attempt failed", "event_id", eventID, "attempt", attempt, "err", lastErr)

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.retryDelay):
			}
		}
	}
	return lastErr
}

func (d *Dispatcher) record(delivery Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
}

// Deliveries returns all delivery attempts.
func (d *Dispatcher) Deliveries() []Delivery {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}
