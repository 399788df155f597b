package identity

import (
	"context"
	"fmt"

	"github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/user"
)

// ClerkConfig configures the Clerk adapter.
type ClerkConfig struct {
	SecretKey string
	// APIURL overrides the backend API; tests point it at a local server.
	APIURL string
}

// Clerk resolves users through the Clerk backend API.
type Clerk struct {
	users *user.Client
}

// NewClerk creates a Clerk-backed directory.
func NewClerk(cfg ClerkConfig) *Clerk {
	backend := clerk.BackendConfig{Key: clerk.String(cfg.SecretKey)}
	if cfg.APIURL != "" {
		backend.URL = clerk.String(cfg.APIURL)
	}
	return &Clerk{users: user.NewClient(&clerk.ClientConfig{BackendConfig: backend})}
}

// EnsureUser looks the email up and creates a password-less user when absent.
func (c *Clerk) EnsureUser(ctx context.Context, email string) (string, error) {
	email = normalize(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	list, err := c.users.List(ctx, &user.ListParams{EmailAddresses: []string{email}})
	if err != nil {
		return "", fmt.Errorf("clerk list users: %w", err)
	}
	if len(list.Users) > 0 {
		return list.Users[0].ID, nil
	}

	created, err := c.users.Create(ctx, &user.CreateParams{
		EmailAddresses:          &[]string{email},
		SkipPasswordRequirement: clerk.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("clerk create user: %w", err)
	}
	return created.ID, nil
}
