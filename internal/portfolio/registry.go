package portfolio

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"

	"github.com/atmx/holdings-engine/internal/store"
)

var ErrInvalidID = errors.New("portfolio: invalid portfolio id")

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// Registry lazily opens one Book per portfolio and keeps it for the life
// of the process.
type Registry struct {
	store  store.Store
	logger *slog.Logger

	mu    sync.Mutex
	books map[string]*Book
}

// NewRegistry creates an empty registry over a store.
func NewRegistry(st store.Store, logger *slog.Logger) *Registry {
	return &Registry{
		store:  st,
		logger: logger.With("component", "portfolio"),
		books:  make(map[string]*Book),
	}
}

// Get returns the book for id, loading it from the store on first use.
func (r *Registry) Get(ctx context.Context, id string) (*Book, error) {
	if !idRegex.MatchString(id) {
		return nil, ErrInvalidID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.books[id]; ok {
		return b, nil
	}
	b, err := Open(ctx, id, r.store, r.logger)
	if err != nil {
		return nil, err
	}
	r.books[id] = b
	return b, nil
}
