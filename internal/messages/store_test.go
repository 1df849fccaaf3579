package messages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/pushdeck/internal/apps"
	"github.com/tOgg1/pushdeck/internal/events"
	"github.com/tOgg1/pushdeck/internal/models"
)

const appA int64 = 1
const appB int64 = 2

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func msg(id, app int64) models.Message {
	return models.Message{ID: id, AppID: app, Message: "body", Date: base.Add(time.Duration(id) * time.Minute)}
}

func cursor(v int64) *int64 { return &v }

type pageKey struct {
	partition int64
	since     int64
}

type fakeRemote struct {
	mu      sync.Mutex
	pages   map[pageKey]models.PagedMessages
	errs    map[int64]error
	gate    chan struct{}
	calls   map[int64]int
	deleted []int64
	bulk    []int64
	delErr  error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		pages: make(map[pageKey]models.PagedMessages),
		errs:  make(map[int64]error),
		calls: make(map[int64]int),
	}
}

func (f *fakeRemote) setPage(partition int64, since *int64, next *int64, ms ...models.Message) {
	key := pageKey{partition: partition, since: -1}
	if since != nil {
		key.since = *since
	}
	f.pages[key] = models.PagedMessages{Messages: ms, Paging: models.Paging{Size: len(ms), Since: next}}
}

func (f *fakeRemote) page(partition int64, since *int64) (models.PagedMessages, error) {
	f.mu.Lock()
	f.calls[partition]++
	gate := f.gate
	err := f.errs[partition]
	key := pageKey{partition: partition, since: -1}
	if since != nil {
		key.since = *since
	}
	page := f.pages[key]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return page, err
}

func (f *fakeRemote) ListMessages(_ context.Context, since *int64, _ int) (models.PagedMessages, error) {
	return f.page(models.PartitionAll, since)
}

func (f *fakeRemote) ListApplicationMessages(_ context.Context, appID int64, since *int64, _ int) (models.PagedMessages, error) {
	return f.page(appID, since)
}

func (f *fakeRemote) DeleteMessage(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRemote) DeleteMessages(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, models.PartitionAll)
	return nil
}

func (f *fakeRemote) DeleteApplicationMessages(_ context.Context, appID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, appID)
	return nil
}

func ids(ms []models.Message) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func loadedStore(t *testing.T, remote *fakeRemote) *Store {
	t.Helper()
	s := NewStore(remote, nil, Options{PageSize: 3})
	require.NoError(t, s.LoadMore(context.Background(), models.PartitionAll))
	require.NoError(t, s.LoadMore(context.Background(), appA))
	return s
}

func TestLoadMoreAppendsNextPage(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(appA, nil, cursor(1), msg(3, appA), msg(2, appA), msg(1, appA))
	remote.setPage(appA, cursor(1), nil, msg(0, appA))

	s := NewStore(remote, nil, Options{})
	ctx := context.Background()

	require.NoError(t, s.LoadMore(ctx, appA))
	state := s.Snapshot(appA)
	require.Equal(t, []int64{3, 2, 1}, ids(state.Messages))
	require.True(t, state.HasMore)
	require.True(t, state.Loaded)

	require.NoError(t, s.LoadMore(ctx, appA))
	state = s.Snapshot(appA)
	require.Equal(t, []int64{3, 2, 1, 0}, ids(state.Messages))
	require.False(t, state.HasMore)

	// Exhausted partitions do not fetch again.
	require.NoError(t, s.LoadMore(ctx, appA))
	require.Equal(t, 2, remote.calls[appA])
}

func TestLoadMoreSkipsDuplicateIDs(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(appA, nil, cursor(2), msg(3, appA), msg(2, appA))
	remote.setPage(appA, cursor(2), nil, msg(2, appA), msg(1, appA))

	s := NewStore(remote, nil, Options{})
	require.NoError(t, s.LoadMore(context.Background(), appA))
	require.NoError(t, s.LoadMore(context.Background(), appA))
	require.Equal(t, []int64{3, 2, 1}, ids(s.Snapshot(appA).Messages))
}

func TestLoadMoreSerializesPerPartition(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.setPage(appA, nil, nil, msg(1, appA))
	remote.setPage(appB, nil, nil, msg(2, appB))

	s := NewStore(remote, nil, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = s.LoadMore(ctx, appA) }()
	go func() { defer wg.Done(); _ = s.LoadMore(ctx, appB) }()

	require.Eventually(t, func() bool {
		return s.Snapshot(appA).Loading && s.Snapshot(appB).Loading
	}, time.Second, time.Millisecond)

	// A second load of an in-flight partition returns immediately.
	require.NoError(t, s.LoadMore(ctx, appA))

	close(remote.gate)
	wg.Wait()

	remote.mu.Lock()
	require.Equal(t, 1, remote.calls[appA])
	require.Equal(t, 1, remote.calls[appB])
	remote.mu.Unlock()
	require.Equal(t, []int64{1}, ids(s.Snapshot(appA).Messages))
	require.Equal(t, []int64{2}, ids(s.Snapshot(appB).Messages))
}

func TestLoadMoreDiscardsResultAfterClear(t *testing.T) {
	remote := newFakeRemote()
	remote.gate = make(chan struct{})
	remote.setPage(appA, nil, nil, msg(1, appA))

	s := NewStore(remote, nil, Options{})
	done := make(chan error, 1)
	go func() { done <- s.LoadMore(context.Background(), appA) }()

	require.Eventually(t, func() bool { return s.Snapshot(appA).Loading }, time.Second, time.Millisecond)
	s.ClearPartition(appA)
	close(remote.gate)
	require.NoError(t, <-done)

	state := s.Snapshot(appA)
	require.False(t, state.Loaded)
	require.Empty(t, state.Messages)
}

func TestLoadMoreErrorKeepsLastKnownGood(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(appA, nil, cursor(1), msg(2, appA))

	s := NewStore(remote, nil, Options{})
	require.NoError(t, s.LoadMore(context.Background(), appA))

	boom := errors.New("boom")
	remote.errs[appA] = boom
	err := s.LoadMore(context.Background(), appA)
	require.ErrorIs(t, err, boom)

	state := s.Snapshot(appA)
	require.Equal(t, []int64{2}, ids(state.Messages))
	require.True(t, state.HasMore)
	require.False(t, state.Loading)
}

func TestPublishInsertsIntoLoadedPartitionsOnly(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(models.PartitionAll, nil, nil, msg(1, appA))
	remote.setPage(appA, nil, nil, msg(1, appA))
	s := loadedStore(t, remote)

	require.True(t, s.Publish(msg(5, appA)))
	require.True(t, s.Publish(msg(6, appB)))

	require.Equal(t, []int64{6, 5, 1}, ids(s.Snapshot(models.PartitionAll).Messages))
	require.Equal(t, []int64{5, 1}, ids(s.Snapshot(appA).Messages))

	// appB was never loaded and stays lazy.
	stateB := s.Snapshot(appB)
	require.False(t, stateB.Loaded)
	require.Empty(t, stateB.Messages)
}

func TestPublishDeduplicatesByID(t *testing.T) {
	remote := newFakeRemote()
	s := loadedStore(t, remote)

	require.True(t, s.Publish(msg(5, appA)))
	require.False(t, s.Publish(msg(5, appA)))
	require.Equal(t, []int64{5}, ids(s.Snapshot(models.PartitionAll).Messages))
	require.Equal(t, []int64{5}, ids(s.Snapshot(appA).Messages))
}

func TestPublishOutOfOrderIsNotCorrected(t *testing.T) {
	remote := newFakeRemote()
	s := loadedStore(t, remote)

	s.Publish(msg(10, appA))
	s.Publish(msg(8, appA))
	s.Publish(msg(9, appA))

	// Arrival order wins; the list is not re-sorted.
	require.Equal(t, []int64{9, 8, 10}, ids(s.Snapshot(models.PartitionAll).Messages))
}

func TestPublishInOrderKeepsSortedList(t *testing.T) {
	remote := newFakeRemote()
	s := loadedStore(t, remote)

	for id := int64(1); id <= 5; id++ {
		s.Publish(msg(id, appA))
	}
	list := s.Snapshot(models.PartitionAll).Messages
	for i := 1; i < len(list); i++ {
		require.True(t, list[i-1].Newer(list[i]))
	}
}

func TestRemoveRestoreRoundTrip(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(models.PartitionAll, nil, nil, msg(4, appB), msg(3, appA), msg(2, appA), msg(1, appB))
	remote.setPage(appA, nil, nil, msg(3, appA), msg(2, appA))
	s := loadedStore(t, remote)

	beforeAll := ids(s.Snapshot(models.PartitionAll).Messages)
	beforeA := ids(s.Snapshot(appA).Messages)

	r := s.RemoveLocal(msg(2, appA))
	require.Equal(t, Removal{AllIndex: 2, PartitionIndex: 1}, r)
	require.Equal(t, []int64{4, 3, 1}, ids(s.Snapshot(models.PartitionAll).Messages))
	require.Equal(t, []int64{3}, ids(s.Snapshot(appA).Messages))

	require.True(t, s.RestoreLocal(msg(2, appA), r))
	require.Equal(t, beforeAll, ids(s.Snapshot(models.PartitionAll).Messages))
	require.Equal(t, beforeA, ids(s.Snapshot(appA).Messages))
}

func TestRemoveLocalNotFound(t *testing.T) {
	s := loadedStore(t, newFakeRemote())
	r := s.RemoveLocal(msg(99, appA))
	require.True(t, r.Empty())
}

func TestRestoreLocalClampsAndSkips(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(models.PartitionAll, nil, nil, msg(3, appA), msg(2, appA), msg(1, appA))
	remote.setPage(appA, nil, nil, msg(3, appA), msg(2, appA), msg(1, appA))
	s := loadedStore(t, remote)

	r := s.RemoveLocal(msg(1, appA))
	s.RemoveLocal(msg(2, appA))

	require.True(t, s.RestoreLocal(msg(1, appA), r))
	require.Equal(t, []int64{3, 1}, ids(s.Snapshot(models.PartitionAll).Messages))

	// Already present: no second copy.
	require.False(t, s.RestoreLocal(msg(1, appA), r))

	// Unloaded partitions are not restored into.
	r3 := s.RemoveLocal(msg(3, appA))
	s.ClearPartition(appA)
	require.True(t, s.RestoreLocal(msg(3, appA), r3))
	require.False(t, s.Snapshot(appA).Loaded)
	require.Equal(t, []int64{3, 1}, ids(s.Snapshot(models.PartitionAll).Messages))
}

func TestRemovedMessageStaysHiddenFromPushAndPages(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(models.PartitionAll, nil, nil, msg(2, appA))
	s := NewStore(remote, nil, Options{})
	require.NoError(t, s.LoadMore(context.Background(), models.PartitionAll))

	s.RemoveLocal(msg(2, appA))
	require.False(t, s.Publish(msg(2, appA)))

	remote.setPage(appA, nil, nil, msg(2, appA))
	require.NoError(t, s.LoadMore(context.Background(), appA))
	require.Empty(t, s.Snapshot(appA).Messages)
}

func TestRemoveRemote(t *testing.T) {
	remote := newFakeRemote()
	s := NewStore(remote, nil, Options{})
	require.NoError(t, s.RemoveRemote(context.Background(), msg(7, appA)))
	require.Equal(t, []int64{7}, remote.deleted)

	remote.delErr = errors.New("nope")
	require.Error(t, s.RemoveRemote(context.Background(), msg(8, appA)))
}

func TestClearAllAndLoaded(t *testing.T) {
	remote := newFakeRemote()
	s := loadedStore(t, remote)
	require.Equal(t, []int64{models.PartitionAll, appA}, s.Loaded())

	var cleared []events.Event
	s.Subscribe(events.Filter{Kinds: []events.Kind{events.KindCleared}}, func(e events.Event) {
		cleared = append(cleared, e)
	})

	s.ClearAll()
	require.Empty(t, s.Loaded())
	require.Len(t, cleared, 1)
	require.Equal(t, []int64{models.PartitionAll, appA}, cleared[0].Partitions)
	require.True(t, s.Snapshot(models.PartitionAll).HasMore)
}

func TestDeletePartition(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(models.PartitionAll, nil, nil, msg(3, appB), msg(2, appA), msg(1, appA))
	remote.setPage(appA, nil, nil, msg(2, appA), msg(1, appA))
	s := loadedStore(t, remote)

	require.NoError(t, s.DeletePartition(context.Background(), appA))
	require.Equal(t, []int64{appA}, remote.bulk)
	require.False(t, s.Snapshot(appA).Loaded)
	allState := s.Snapshot(models.PartitionAll)
	require.True(t, allState.Loaded)
	require.Equal(t, []int64{3}, ids(allState.Messages))

	require.NoError(t, s.DeletePartition(context.Background(), models.PartitionAll))
	require.Empty(t, s.Loaded())
}

func TestSubscribeReceivesTypedEvents(t *testing.T) {
	remote := newFakeRemote()
	s := loadedStore(t, remote)

	var got []events.Event
	unsubscribe := s.Subscribe(events.Filter{}, func(e events.Event) { got = append(got, e) })

	s.Publish(msg(1, appA))
	r := s.RemoveLocal(msg(1, appA))
	s.RestoreLocal(msg(1, appA), r)
	unsubscribe()
	s.Publish(msg(2, appA))

	require.Len(t, got, 3)
	require.Equal(t, events.KindPublished, got[0].Kind)
	require.Equal(t, []int64{models.PartitionAll, appA}, got[0].Partitions)
	require.Equal(t, events.KindRemoved, got[1].Kind)
	require.Equal(t, events.KindRestored, got[2].Kind)
	require.EqualValues(t, 1, got[2].MessageID)
	require.Greater(t, got[2].Version, got[0].Version)
}

func TestListenerMayReadStore(t *testing.T) {
	s := loadedStore(t, newFakeRemote())
	var seen []int64
	s.Subscribe(events.Filter{}, func(events.Event) {
		seen = ids(s.Snapshot(models.PartitionAll).Messages)
	})
	s.Publish(msg(1, appA))
	require.Equal(t, []int64{1}, seen)
}

func TestEnrichedMemoization(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(models.PartitionAll, nil, nil, msg(2, appB), msg(1, appA))
	reg := apps.NewRegistry(nil, nil)
	reg.Put(apps.Info{ID: appA, Name: "alerts", IconURL: "https://push/a.png"})

	s := NewStore(remote, reg, Options{})
	require.NoError(t, s.LoadMore(context.Background(), models.PartitionAll))

	first := s.Enriched(models.PartitionAll)
	require.Len(t, first, 2)
	require.Equal(t, "", first[0].AppName)
	require.Equal(t, "alerts", first[1].AppName)
	require.Equal(t, "https://push/a.png", first[1].IconURL)

	// Unchanged inputs return the memoized slice.
	again := s.Enriched(models.PartitionAll)
	require.Same(t, &first[0], &again[0])

	// A directory change invalidates the view.
	reg.Put(apps.Info{ID: appB, Name: "backup"})
	afterDir := s.Enriched(models.PartitionAll)
	require.Equal(t, "backup", afterDir[0].AppName)

	// A list mutation invalidates the view.
	s.Publish(msg(3, appA))
	afterPublish := s.Enriched(models.PartitionAll)
	require.Len(t, afterPublish, 3)
	require.EqualValues(t, 3, afterPublish[0].Item.ID)

	require.Nil(t, s.Enriched(appB))
}

func TestFind(t *testing.T) {
	remote := newFakeRemote()
	remote.setPage(appA, nil, nil, msg(4, appA))
	s := NewStore(remote, nil, Options{})
	require.NoError(t, s.LoadMore(context.Background(), appA))

	m, ok := s.Find(4)
	require.True(t, ok)
	require.EqualValues(t, appA, m.AppID)

	_, ok = s.Find(5)
	require.False(t, ok)
}
