// Package compose turns a counter increase into notification text.
//
// Composers never fail: a remote backend that errors or returns nothing falls
// back to the local templates.
package compose

import (
	"context"

	"rivalbot/internal/rivalry"
)

// Request describes one detected increase.
type Request struct {
	EntityName string
	// Supports is the identity the recipient's fans support.
	Supports string
	Count    int64
	Kind     rivalry.Kind
}

type Composer interface {
	Compose(ctx context.Context, req Request) string
}

// Func adapts a plain function to Composer.
type Func func(ctx context.Context, req Request) string

func (f Func) Compose(ctx context.Context, req Request) string { return f(ctx, req) }
