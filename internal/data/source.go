// Package data samples market condition snapshots from an external source and
// keeps the current/previous pair for every symbol.
package data

import (
	"context"
	"errors"

	"github.com/atlas-desktop/adaptive-backend/pkg/types"
)

var (
	// ErrUnknownSymbol is returned by sources that do not serve a symbol
	ErrUnknownSymbol = errors.New("unknown symbol")
	// ErrStaleSnapshot is returned when a sample is not newer than the current one
	ErrStaleSnapshot = errors.New("snapshot is not newer than current")
	// ErrInvalidSnapshot is returned when a sample fails validation
	ErrInvalidSnapshot = errors.New("invalid snapshot")
	// ErrNotEnoughData is returned when a derived source lacks history
	ErrNotEnoughData = errors.New("not enough data")
)

// Source provides the current price and derived indicators for a symbol
type Source interface {
	GetSnapshot(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error)
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error)

// GetSnapshot calls f
func (f SourceFunc) GetSnapshot(ctx context.Context, symbol string) (types.MarketConditionSnapshot, error) {
	return f(ctx, symbol)
}
