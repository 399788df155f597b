// Package identity resolves a guardian email to an identity-provider subject.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidEmail is returned for an empty email.
var ErrInvalidEmail = errors.New("email is required")

// Directory finds or creates the user account for an email.
type Directory interface {
	EnsureUser(ctx context.Context, email string) (string, error)
}

// LocalDirectory hands out "local_<uuid>" subjects held in memory. It backs
// walk-in registrations and local development.
type LocalDirectory struct {
	mu       sync.Mutex
	subjects map[string]string
}

// NewLocalDirectory creates an empty directory.
func NewLocalDirectory() *LocalDirectory {
	return &LocalDirectory{subjects: make(map[string]string)}
}

// EnsureUser returns the subject for email, minting one on first use.
func (d *LocalDirectory) EnsureUser(_ context.Context, email string) (string, error) {
	key := normalize(email)
	if key == "" {
		return "", ErrInvalidEmail
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.subjects[key]; ok {
		return id, nil
	}
	id := "local_" + uuid.NewString()
	d.subjects[key] = id
	return id, nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
