// Package correlation threads a per-request correlation identifier through
// context so gateway logs and forwarded webhook calls can be tied together.
package correlation

import (
	"context"
	"strings"
	"sync"

	"github.com/agendaautomatizada/whatsapp/internal/uuidv7"
)

// MaxIDLength defines the maximum number of characters accepted for
// correlation identifiers supplied by callers.
const MaxIDLength = 128

type contextKey struct{}

type state struct {
	mu sync.RWMutex
	id string
}

// Ensure attaches correlation state to ctx if not already present.
func Ensure(ctx context.Context) context.Context {
	if ctx == nil {
		return context.WithValue(context.Background(), contextKey{}, &state{})
	}
	if _, ok := ctx.Value(contextKey{}).(*state); ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, &state{})
}

// Set records the correlation ID on ctx and returns the context carrying
// the state. Invalid identifiers are ignored.
func Set(ctx context.Context, id string) context.Context {
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	ctx = Ensure(ctx)
	st, _ := ctx.Value(contextKey{}).(*state)
	st.mu.Lock()
	st.id = normalized
	st.mu.Unlock()
	return ctx
}

// ID retrieves the correlation ID stored on ctx, if any.
func ID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	st, ok := ctx.Value(contextKey{}).(*state)
	if !ok || st == nil {
		return ""
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.id
}

// Has reports whether ctx carries a correlation ID.
func Has(ctx context.Context) bool {
	return ID(ctx) != ""
}

// Normalize validates and canonicalizes an external correlation identifier.
// Only printable ASCII up to MaxIDLength is accepted.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxIDLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Generate produces a new random correlation identifier.
func Generate() string {
	return uuidv7.NewString()
}
