package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const webhookPrefix = "webhooks"

// Archive keeps raw provider payloads for audit.
type Archive struct {
	backend ObjectStorage
	newID   func() string
}

func NewArchive(backend ObjectStorage) *Archive {
	return &Archive{backend: backend, newID: uuid.NewString}
}

// StoreWebhook writes payload under webhooks/<yyyy>/<mm>/<dd>/ and returns
// the object key. Stored payloads are never overwritten; a key collision is
// retried once under a new id.
func (a *Archive) StoreWebhook(ctx context.Context, txID string, payload []byte, receivedAt time.Time) (string, error) {
	var err error
	for range 2 {
		key := webhookKey(txID, a.newID(), receivedAt)
		err = a.backend.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), "application/json")
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrObjectExists) {
			break
		}
	}
	return "", fmt.Errorf("archive webhook: %w", err)
}

// ApplyRetention expires archived webhooks after days. Zero keeps them.
func (a *Archive) ApplyRetention(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	if err := a.backend.ExpirePrefix(ctx, webhookPrefix, days); err != nil {
		return fmt.Errorf("set retention on %s: %w", a.backend.Bucket(), err)
	}
	return nil
}

func webhookKey(txID, id string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s.json", webhookPrefix, at.UTC().Format("2006/01/02"), sanitizeKey(txID), id)
}

func sanitizeKey(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "unknown"
	}
	return s
}
