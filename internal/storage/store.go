package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"gemindex/internal/models"

	"github.com/rs/zerolog"
)

// ErrClosed is returned by Mutate once the store has been shut down.
var ErrClosed = errors.New("document store is closed")

// Options configures a Store.
type Options struct {
	// Primary is the durable backend tried first. May be nil for
	// file-only deployments.
	Primary Backend
	// Fallback is the local-file backend used when the primary is
	// absent or has failed. Required.
	Fallback Backend
	// DisabledJobTypes lists job types whose external capability is
	// not configured; they are forced off during normalization.
	DisabledJobTypes []string
	Logger           *zerolog.Logger
}

// Store is the single source of truth for the document: a per-process
// cache, a strict FIFO mutation queue, and dual-backend persistence.
//
// Once the primary backend fails with an operational error the store
// downgrades to the fallback for the rest of the process lifetime; it
// never probes the primary again.
type Store struct {
	primary     Backend
	fallback    Backend
	disabled    map[string]bool
	logger      zerolog.Logger
	primaryDown atomic.Bool

	mu    sync.RWMutex
	cache *models.Document

	jobs chan mutation
	quit chan struct{}
	once sync.Once
}

type mutation struct {
	ctx  context.Context
	fn   func(*models.Document) error
	done chan error
}

func NewStore(opts Options) *Store {
	disabled := make(map[string]bool, len(opts.DisabledJobTypes))
	for _, t := range opts.DisabledJobTypes {
		disabled[t] = true
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Store{
		primary:  opts.Primary,
		fallback: opts.Fallback,
		disabled: disabled,
		logger:   logger,
		jobs:     make(chan mutation),
		quit:     make(chan struct{}),
	}
	go s.dispatch()
	return s
}

// dispatch is the single consumer of the mutation queue. One mutation
// runs its full read-modify-persist cycle before the next starts.
func (s *Store) dispatch() {
	for {
		select {
		case m := <-s.jobs:
			m.done <- s.run(m)
		case <-s.quit:
			for {
				select {
				case m := <-s.jobs:
					m.done <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

// Read returns the cached document, loading and normalizing from the
// active backend when forceFresh is set or no cache exists yet.
func (s *Store) Read(ctx context.Context, forceFresh bool) (*models.Document, error) {
	if !forceFresh {
		s.mu.RLock()
		cached := s.cache
		s.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
	}
	return s.reload(ctx)
}

// Mutate enqueues fn onto the FIFO mutation queue and blocks until its
// cycle completes. fn receives a freshly loaded document and mutates
// it in place; when fn returns an error nothing is persisted and the
// error is returned to this caller only — the queue keeps serving
// subsequent mutations.
func (s *Store) Mutate(ctx context.Context, fn func(*models.Document) error) error {
	m := mutation{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case s.jobs <- m:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-m.done
}

// EnsureExists idempotently seeds the active backend with a default
// document when none has been persisted yet.
func (s *Store) EnsureExists(ctx context.Context) error {
	_, err := s.load(ctx)
	if errors.Is(err, ErrNotFound) {
		return s.persist(ctx, normalize(SeedDocument(), s.disabled))
	}
	return err
}

// Mode reports the active storage medium ("sqlite" or "file").
func (s *Store) Mode() string {
	if s.primary != nil && !s.primaryDown.Load() {
		return s.primary.Name()
	}
	return s.fallback.Name()
}

// Close stops the mutation dispatcher. Pending Mutate calls fail with
// ErrClosed.
func (s *Store) Close() {
	s.once.Do(func() { close(s.quit) })
}

func (s *Store) run(m mutation) error {
	doc, err := s.loadFresh(m.ctx)
	if err != nil {
		return err
	}

	if err := m.fn(doc); err != nil {
		// The callback may have half-mutated the document; drop the
		// cache so the next read starts from persisted state.
		s.mu.Lock()
		s.cache = nil
		s.mu.Unlock()
		return err
	}

	doc = normalize(doc, s.disabled)
	if err := s.persist(m.ctx, doc); err != nil {
		return err
	}

	s.mu.Lock()
	s.cache = doc
	s.mu.Unlock()
	return nil
}

func (s *Store) reload(ctx context.Context) (*models.Document, error) {
	doc, err := s.loadFresh(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cache = doc
	s.mu.Unlock()
	return doc, nil
}

// loadFresh loads from the active backend, seeding it on first boot,
// and returns the normalized document without touching the cache.
func (s *Store) loadFresh(ctx context.Context) (*models.Document, error) {
	raw, err := s.load(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	doc := normalize(raw, s.disabled)
	if raw == nil {
		if err := s.persist(ctx, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *Store) load(ctx context.Context) (*models.Document, error) {
	if s.primary != nil && !s.primaryDown.Load() {
		doc, err := s.primary.Load(ctx)
		if err == nil || errors.Is(err, ErrNotFound) {
			return doc, err
		}
		s.downgrade("read", err)
	}
	return s.fallback.Load(ctx)
}

func (s *Store) persist(ctx context.Context, doc *models.Document) error {
	if s.primary != nil && !s.primaryDown.Load() {
		err := s.primary.Save(ctx, doc)
		if err == nil {
			return nil
		}
		s.downgrade("write", err)
	}
	return s.fallback.Save(ctx, doc)
}

func (s *Store) downgrade(phase string, err error) {
	if s.primaryDown.CompareAndSwap(false, true) {
		s.logger.Warn().
			Err(err).
			Str("phase", phase).
			Str("fallback", s.fallback.Name()).
			Msg("primary backend unavailable; falling back for process lifetime")
	}
}
