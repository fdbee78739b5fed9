package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrVersionConflict  = errors.New("cart was modified concurrently")
	ErrCorruptSnapshot  = errors.New("stored cart snapshot is corrupt")
	ErrUnknownStoreKind = errors.New("unknown cart store kind")
)

// CartStore persists whole cart snapshots, one record per session.
//
// Save is a compare-and-swap: it succeeds only if the stored version equals
// cart.Version (0 meaning "nothing stored yet") and bumps cart.Version on
// success. Otherwise it returns ErrVersionConflict and stores nothing.
type CartStore interface {
	Load(ctx context.Context, sessionID string) (*domain.Cart, error)
	Save(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// Snapshots are stored as a JSON array of {product, quantity, ...} records.
func encodeLines(lines []domain.CartLine) ([]byte, error) {
	if lines == nil {
		lines = []domain.CartLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("marshal cart failed: %w", err)
	}
	return data, nil
}

func decodeLines(data []byte) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return lines, nil
}
