// Package counter reads cumulative goal and win counters for tracked entities.
package counter

import (
	"context"
	"errors"
	"fmt"

	"rivalbot/internal/rivalry"
)

// ErrReadFailed wraps every failure returned by a Source. A failed read means
// "unknown", never "zero".
var ErrReadFailed = errors.New("counter read failed")

// ErrNoData is a read failure where the API answered without any statistics
// for the entity and season. It wraps ErrReadFailed.
var ErrNoData = fmt.Errorf("%w: no data", ErrReadFailed)

// Source returns the current cumulative counter for an entity: goals for
// players, wins for teams.
type Source interface {
	Count(ctx context.Context, e rivalry.Entity) (int64, error)
}

// Func adapts a plain function to Source.
type Func func(ctx context.Context, e rivalry.Entity) (int64, error)

func (f Func) Count(ctx context.Context, e rivalry.Entity) (int64, error) { return f(ctx, e) }
