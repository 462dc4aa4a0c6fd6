package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

var (
	keyringSet = keyring.Set
	keyringGet = keyring.Get
)

// KeyringStore keeps each key as a secret in the OS keychain under one
// service name. Suited to the saved cookie record, which is a credential.
type KeyringStore struct {
	service string
}

// NewKeyringStore returns a store that files its secrets under service.
func NewKeyringStore(service string) *KeyringStore {
	return &KeyringStore{service: service}
}

// Get implements Store.
func (s *KeyringStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err := keyringGet(s.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keyring lookup of %q failed: %w", key, err)
	}
	return []byte(v), nil
}

// Set implements Store.
func (s *KeyringStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := keyringSet(s.service, key, string(value)); err != nil {
		return fmt.Errorf("keyring write of %q failed: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *KeyringStore) Close() error { return nil }
