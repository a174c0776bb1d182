package model

import (
	"context"
	"fmt"
	"os"
	"time"
)

// SeedFromFile loads an envelope JSON from disk, validates it, and installs
// it as the current model. Used to bootstrap a fresh deployment before the
// trainer has produced anything.
func SeedFromFile(ctx context.Context, store *RedisStore, path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("model: read seed: %w", err)
	}
	id, m, err := Decode(raw)
	if err != nil {
		return "", fmt.Errorf("model: seed %s: %w", path, err)
	}
	if err := store.Save(ctx, id, m, time.Now()); err != nil {
		return "", err
	}
	if err := store.Promote(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}
