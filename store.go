package followcache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// QuerySource fetches one page of the following list of login.
//
// A nil page with a nil error means the base user was absent in the response;
// the store treats it as a no-op, not as a failure.
type QuerySource interface {
	FetchPage(ctx context.Context, login string, cursor Cursor) (*Page, error)
}

// QuerySourceFunc adapts a function to QuerySource.
type QuerySourceFunc func(ctx context.Context, login string, cursor Cursor) (*Page, error)

// FetchPage - implements QuerySource.
func (f QuerySourceFunc) FetchPage(ctx context.Context, login string, cursor Cursor) (*Page, error) {
	return f(ctx, login, cursor)
}

// Option configures a Store or a Reconciler.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

// Store is the live handle of one subscription to the following list of a
// user. It is the only writer of its CacheState: every change goes through a
// merge function under the store's lock, and each resulting state is
// published as an immutable snapshot.
//
// Store is safe for concurrent use.
type Store struct {
	source QuerySource
	login  string
	logger *slog.Logger

	// lifetime is cancelled by Close and bounds every request issued on
	// behalf of the store.
	lifetime context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	state     *CacheState
	updates   chan *CacheState
	loading   bool
	mutations int
	closed    bool
	// pending holds the logins with a follow in flight, across every
	// Reconciler driving this store.
	pending map[string]struct{}
}

// Subscribe fetches the first page at cursor0 and returns a live Store
// holding it. Nothing is published when the initial fetch fails; the error is
// a *FetchError.
func Subscribe(ctx context.Context, source QuerySource, login string, cursor0 Cursor, opts ...Option) (*Store, error) {
	if source == nil {
		return nil, &ValidationError{Field: "source", Reason: "must not be nil"}
	}
	if err := cursor0.validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	logger := o.logger.With("login", login)

	ctx, span := startSpan(ctx, "Store.Subscribe",
		attribute.String("followcache.login", login),
		attribute.Int("followcache.page", cursor0.Page),
		attribute.Int("followcache.per_page", cursor0.PerPage),
	)
	page, err := fetchPage(ctx, source, login, cursor0, true)
	endSpan(span, err)
	if err != nil {
		logger.Warn("initial fetch failed", "cursor", cursor0.String(), "error", err)
		return nil, err
	}

	lifetime, cancel := context.WithCancel(context.Background())
	s := &Store{
		source:   source,
		login:    login,
		logger:   logger,
		lifetime: lifetime,
		cancel:   cancel,
		updates:  make(chan *CacheState, 1),
		pending:  make(map[string]struct{}),
	}

	state := NewState(cursor0, page)
	s.mu.Lock()
	s.publishLocked(state)
	s.mu.Unlock()

	logger.Debug("subscribed",
		"entries", state.Len(),
		"total", state.TotalCount,
		"has_more", state.HasMore,
		"absent", page == nil,
	)

	return s, nil
}

// Login returns the user whose following list the store holds.
func (s *Store) Login() string {
	return s.login
}

// Updates returns the channel of published snapshots. The channel keeps only
// the latest snapshot, so a slow reader skips intermediate states but never
// observes a stale one. It is closed by Close.
func (s *Store) Updates() <-chan *CacheState {
	return s.updates
}

// State returns the current snapshot.
func (s *Store) State() *CacheState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

// LoadMore fetches the next page and appends it to the list.
//
// It returns false without a request when there is nothing more to load,
// another LoadMore or a follow is in flight, or the store is closed. A failed
// fetch returns a *FetchError and leaves the state unchanged. A result that
// arrives after Close is dropped and ErrStoreClosed is returned.
func (s *Store) LoadMore(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.closed || s.loading || s.mutations > 0 || !s.state.HasMore {
		s.mu.Unlock()
		return false, nil
	}
	s.loading = true
	cursor := s.state.Cursor.Next()
	s.mu.Unlock()

	ctx, span := startSpan(ctx, "Store.LoadMore",
		attribute.String("followcache.login", s.login),
		attribute.Int("followcache.page", cursor.Page),
	)
	fetchCtx, stop := s.bind(ctx)
	page, err := fetchPage(fetchCtx, s.source, s.login, cursor, false)
	stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false

	if s.closed {
		endSpan(span, ErrStoreClosed)
		return false, ErrStoreClosed
	}
	endSpan(span, err)
	if err != nil {
		s.logger.Warn("load more failed", "cursor", cursor.String(), "error", err)
		return false, err
	}

	next := AppendPage(s.state, page)
	if next == s.state {
		s.logger.Debug("absent page ignored", "cursor", cursor.String())
		return false, nil
	}
	s.publishLocked(next)

	s.logger.Debug("page appended",
		"page", next.Cursor.Page,
		"entries", next.Len(),
		"total", next.TotalCount,
		"has_more", next.HasMore,
	)

	return true, nil
}

// Apply runs transform on the current state and publishes the result. It is
// synchronous and total: a nil result or the same pointer leaves the state
// as is. Apply returns false once the store is closed.
func (s *Store) Apply(transform func(*CacheState) *CacheState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	next := transform(s.state)
	if next != nil && next != s.state {
		s.publishLocked(next)
	}

	return true
}

// Close ends the subscription. In-flight requests are cancelled, their
// results are ignored and Updates is closed. Close is idempotent.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	close(s.updates)

	s.logger.Debug("unsubscribed")
}

// publishLocked replaces the state and pushes it to Updates, dropping a
// snapshot nobody has read yet. s.mu must be held.
func (s *Store) publishLocked(next *CacheState) {
	s.state = next

	select {
	case <-s.updates:
	default:
	}
	s.updates <- next
}

// bind derives a context that is also cancelled when the store closes.
func (s *Store) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.lifetime, cancel)

	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Store) beginMutation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.mutations++

	return true
}

// claimFollow marks login as pending. It returns false when a follow of
// login is already in flight.
func (s *Store) claimFollow(login string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[login]; ok {
		return false
	}
	s.pending[login] = struct{}{}

	return true
}

func (s *Store) releaseFollow(login string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, login)
}

func (s *Store) followPending(login string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[login]

	return ok
}

func (s *Store) endMutation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mutations--
}

func fetchPage(ctx context.Context, source QuerySource, login string, cursor Cursor, initial bool) (*Page, error) {
	start := time.Now()
	page, err := source.FetchPage(ctx, login, cursor)
	if err == nil && page != nil {
		err = page.validate()
	}
	recordFetch(ctx, time.Since(start), initial, err)

	if err != nil {
		return nil, &FetchError{Login: login, Cursor: cursor, Err: err}
	}

	return page, nil
}
