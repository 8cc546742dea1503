package followcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a following list of total users named user00, user01...
type fakeSource struct {
	total int

	mu     sync.Mutex
	calls  []Cursor
	fail   map[int]error
	absent map[int]bool
	// gate, when set for a page, blocks that fetch until it is closed or
	// the context is done. entered is signalled once the fetch is blocked.
	gate    map[int]chan struct{}
	entered chan int
}

func newFakeSource(total int) *fakeSource {
	return &fakeSource{
		total:   total,
		fail:    map[int]error{},
		absent:  map[int]bool{},
		gate:    map[int]chan struct{}{},
		entered: make(chan int, 16),
	}
}

func (f *fakeSource) FetchPage(ctx context.Context, _ string, cursor Cursor) (*Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cursor)
	gate := f.gate[cursor.Page]
	err := f.fail[cursor.Page]
	absent := f.absent[cursor.Page]
	f.mu.Unlock()

	if gate != nil {
		f.entered <- cursor.Page
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if absent {
		return nil, nil
	}

	page := &Page{TotalCount: f.total}
	for i := cursor.Offset(); i < min(cursor.Offset()+cursor.Limit(), f.total); i++ {
		login := fmt.Sprintf("user%02d", i)
		page.Entries = append(page.Entries, Entry{ID: fmt.Sprint(i + 1), Login: login})
	}

	return page, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.calls)
}

func (f *fakeSource) set(fn func(f *fakeSource)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fn(f)
}

func subscribe(t *testing.T, source QuerySource, cursor Cursor) *Store {
	t.Helper()

	store, err := Subscribe(context.Background(), source, "me", cursor)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	return store
}

func Test_Store_PaginationScenario(t *testing.T) {
	source := newFakeSource(25)
	store := subscribe(t, source, FirstCursor(10))
	ctx := context.Background()

	s := store.State()
	require.Equal(t, 1, s.Cursor.Page)
	require.Equal(t, 25, s.TotalCount)
	require.True(t, s.HasMore)
	require.Len(t, s.Entries, 10)

	loaded, err := store.LoadMore(ctx)
	require.NoError(t, err)
	require.True(t, loaded)
	s = store.State()
	require.Equal(t, 2, s.Cursor.Page)
	require.True(t, s.HasMore)
	require.Len(t, s.Entries, 20)

	loaded, err = store.LoadMore(ctx)
	require.NoError(t, err)
	require.True(t, loaded)
	s = store.State()
	require.Equal(t, 3, s.Cursor.Page)
	require.False(t, s.HasMore)
	require.Len(t, s.Entries, 25)
	require.Equal(t, "user00", s.Entries[0].Login)
	require.Equal(t, "user24", s.Entries[24].Login)

	loaded, err = store.LoadMore(ctx)
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, 3, source.callCount())
	require.Equal(t, []Cursor{{1, 10}, {2, 10}, {3, 10}}, source.calls)
}

func Test_Store_Subscribe_Errors(t *testing.T) {
	t.Run("initial fetch failure publishes nothing", func(t *testing.T) {
		boom := errors.New("boom")
		source := newFakeSource(25)
		source.fail[1] = boom

		store, err := Subscribe(context.Background(), source, "me", FirstCursor(10))

		require.Nil(t, store)
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		require.ErrorIs(t, err, boom)
		require.Equal(t, "me", fetchErr.Login)
		require.Equal(t, FirstCursor(10), fetchErr.Cursor)
	})

	t.Run("invalid cursor", func(t *testing.T) {
		source := newFakeSource(25)

		_, err := Subscribe(context.Background(), source, "me", Cursor{})

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		require.Equal(t, 0, source.callCount())
	})

	t.Run("nil source", func(t *testing.T) {
		_, err := Subscribe(context.Background(), nil, "me", FirstCursor(10))

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
	})

	t.Run("invalid entry from source", func(t *testing.T) {
		source := QuerySourceFunc(func(context.Context, string, Cursor) (*Page, error) {
			return &Page{TotalCount: 1, Entries: []Entry{{ID: "1"}}}, nil
		})

		_, err := Subscribe(context.Background(), source, "me", FirstCursor(10))

		var fetchErr *FetchError
		var verr *ValidationError
		require.True(t, errors.As(err, &fetchErr))
		require.True(t, errors.As(err, &verr))
	})

	t.Run("absent base user gives an empty list", func(t *testing.T) {
		source := newFakeSource(25)
		source.absent[1] = true

		store := subscribe(t, source, FirstCursor(10))

		s := store.State()
		require.Equal(t, 0, s.Len())
		require.False(t, s.HasMore)
	})
}

func Test_Store_LoadMore_FailureKeepsState(t *testing.T) {
	boom := errors.New("boom")
	source := newFakeSource(25)
	store := subscribe(t, source, FirstCursor(10))
	before := store.State()

	source.set(func(f *fakeSource) { f.fail[2] = boom })
	loaded, err := store.LoadMore(context.Background())

	require.False(t, loaded)
	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	require.Equal(t, 2, fetchErr.Cursor.Page)
	require.Same(t, before, store.State())

	source.set(func(f *fakeSource) { delete(f.fail, 2) })
	loaded, err = store.LoadMore(context.Background())

	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, 2, store.State().Cursor.Page)
}

func Test_Store_LoadMore_AbsentPage(t *testing.T) {
	source := newFakeSource(25)
	store := subscribe(t, source, FirstCursor(10))
	before := store.State()

	source.set(func(f *fakeSource) { f.absent[2] = true })
	loaded, err := store.LoadMore(context.Background())

	require.NoError(t, err)
	require.False(t, loaded)
	require.Same(t, before, store.State())
}

func Test_Store_LoadMore_Serialized(t *testing.T) {
	source := newFakeSource(25)
	store := subscribe(t, source, FirstCursor(10))
	gate := make(chan struct{})
	source.set(func(f *fakeSource) { f.gate[2] = gate })

	type result struct {
		loaded bool
		err    error
	}
	done := make(chan result, 1)
	go func() {
		loaded, err := store.LoadMore(context.Background())
		done <- result{loaded, err}
	}()
	require.Equal(t, 2, <-source.entered)

	loaded, err := store.LoadMore(context.Background())
	require.NoError(t, err)
	require.False(t, loaded, "second LoadMore must not run while the first is in flight")

	close(gate)
	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.loaded)
	require.Equal(t, 2, store.State().Cursor.Page)
	require.Equal(t, 2, source.callCount())
}

func Test_Store_LoadMore_RefusedWhileMutating(t *testing.T) {
	source := newFakeSource(25)
	store := subscribe(t, source, FirstCursor(10))

	require.True(t, store.beginMutation())
	loaded, err := store.LoadMore(context.Background())
	require.NoError(t, err)
	require.False(t, loaded)

	store.endMutation()
	loaded, err = store.LoadMore(context.Background())
	require.NoError(t, err)
	require.True(t, loaded)
}

func Test_Store_LoadMore_RefusedDuringFollow(t *testing.T) {
	source := newFakeSource(25)
	store := subscribe(t, source, FirstCursor(10))
	gate := make(chan struct{})
	entered := make(chan struct{})
	r := NewReconciler(store, MutationSinkFunc(func(ctx context.Context, login string) (*Entry, error) {
		close(entered)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		return &Entry{ID: "id-" + login, Login: login}, nil
	}))

	done := make(chan error, 1)
	go func() {
		_, err := r.Follow(context.Background(), "octocat")
		done <- err
	}()
	<-entered

	loaded, err := store.LoadMore(context.Background())
	require.NoError(t, err)
	require.False(t, loaded)
	require.Equal(t, 1, source.callCount())
	require.Equal(t, 1, store.State().Cursor.Page)

	close(gate)
	require.NoError(t, <-done)

	loaded, err = store.LoadMore(context.Background())
	require.NoError(t, err)
	require.True(t, loaded)
	require.Equal(t, 2, source.callCount())
}

func Test_Store_Updates_LatestWins(t *testing.T) {
	store := subscribe(t, newFakeSource(3), FirstCursor(10))

	store.Apply(func(s *CacheState) *CacheState {
		return InsertSpeculative(s, NewSpeculativeEntry("a"))
	})
	store.Apply(func(s *CacheState) *CacheState {
		return InsertSpeculative(s, NewSpeculativeEntry("b"))
	})

	got := <-store.Updates()
	require.Same(t, store.State(), got)
	require.Equal(t, []string{"user00", "user01", "user02", "a", "b"}, got.Logins())
	require.Len(t, store.Updates(), 0)
}

func Test_Store_Apply(t *testing.T) {
	store := subscribe(t, newFakeSource(3), FirstCursor(10))
	initial := <-store.Updates()

	require.True(t, store.Apply(func(s *CacheState) *CacheState { return s }))
	require.True(t, store.Apply(func(*CacheState) *CacheState { return nil }))
	require.Same(t, initial, store.State())
	require.Len(t, store.Updates(), 0, "unchanged state must not be published")
}

func Test_Store_Close(t *testing.T) {
	source := newFakeSource(25)
	store, err := Subscribe(context.Background(), source, "me", FirstCursor(10))
	require.NoError(t, err)
	last := store.State()

	store.Close()
	store.Close()

	require.True(t, store.Closed())
	require.Same(t, last, <-store.Updates())
	_, ok := <-store.Updates()
	require.False(t, ok, "updates must be closed")

	require.False(t, store.Apply(func(s *CacheState) *CacheState {
		return InsertSpeculative(s, NewSpeculativeEntry("a"))
	}))
	loaded, err := store.LoadMore(context.Background())
	require.NoError(t, err)
	require.False(t, loaded)
	require.Same(t, last, store.State())
	require.Equal(t, 1, source.callCount())
}

func Test_Store_Close_DropsInFlightPage(t *testing.T) {
	source := newFakeSource(25)
	store, err := Subscribe(context.Background(), source, "me", FirstCursor(10))
	require.NoError(t, err)
	before := store.State()
	source.set(func(f *fakeSource) { f.gate[2] = make(chan struct{}) })

	done := make(chan error, 1)
	go func() {
		_, err := store.LoadMore(context.Background())
		done <- err
	}()
	<-source.entered

	store.Close()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrStoreClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight fetch was not cancelled by Close")
	}
	assert.Same(t, before, store.State())
}
