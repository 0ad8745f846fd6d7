// ABOUTME: Key/value blob storage contract for persisted session state
// ABOUTME: Repository layers typed Session load/save/clear on top of any Store

package session

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Store.Get when the key holds no value.
var ErrNotFound = errors.New("session: key not found")

// Store is flat key/value storage for opaque string blobs.
// Remove must succeed when the key is already absent.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// Repository reads and writes the session blob stored under a fixed key.
type Repository struct {
	store Store
	key   string
}

// NewRepository creates a repository; an empty key selects DefaultKey.
func NewRepository(store Store, key string) *Repository {
	if key == "" {
		key = DefaultKey
	}
	return &Repository{store: store, key: key}
}

// Key returns the session key.
func (r *Repository) Key() string {
	return r.key
}

// Load returns the stored session. It wraps ErrNotFound when nothing is stored.
func (r *Repository) Load(ctx context.Context) (*Session, error) {
	blob, err := r.store.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", r.key, err)
	}
	if blob == "" || blob == "null" {
		return nil, fmt.Errorf("load session %q: %w", r.key, ErrNotFound)
	}
	return Parse(blob)
}

// Save replaces the stored session.
func (r *Repository) Save(ctx context.Context, s *Session) error {
	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.store.Set(ctx, r.key, string(data)); err != nil {
		return fmt.Errorf("save session %q: %w", r.key, err)
	}
	return nil
}

// Clear removes the stored session.
func (r *Repository) Clear(ctx context.Context) error {
	if err := r.store.Remove(ctx, r.key); err != nil {
		return fmt.Errorf("clear session %q: %w", r.key, err)
	}
	return nil
}

// RecordError stores the last auth failure message for the next login screen.
func (r *Repository) RecordError(ctx context.Context, message string) error {
	return r.store.Set(ctx, ErrorKey, message)
}

// LastError returns the recorded auth failure message, or "" when none is stored.
func (r *Repository) LastError(ctx context.Context) (string, error) {
	msg, err := r.store.Get(ctx, ErrorKey)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return msg, err
}

// ClearError removes the recorded auth failure message.
func (r *Repository) ClearError(ctx context.Context) error {
	return r.store.Remove(ctx, ErrorKey)
}
