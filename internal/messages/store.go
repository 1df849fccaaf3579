// Package messages holds the partitioned, paged view of server messages.
package messages

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/pushdeck/internal/apps"
	"github.com/tOgg1/pushdeck/internal/events"
	"github.com/tOgg1/pushdeck/internal/logging"
	"github.com/tOgg1/pushdeck/internal/models"
)

// NotFound is the index reported for a list that did not hold the message.
const NotFound = -1

// DefaultPageSize is used when Options.PageSize is not set.
const DefaultPageSize = 100

// Remote is the server side of the store.
type Remote interface {
	ListMessages(ctx context.Context, since *int64, limit int) (models.PagedMessages, error)
	ListApplicationMessages(ctx context.Context, appID int64, since *int64, limit int) (models.PagedMessages, error)
	DeleteMessage(ctx context.Context, id int64) error
	DeleteMessages(ctx context.Context) error
	DeleteApplicationMessages(ctx context.Context, appID int64) error
}

// Removal records where RemoveLocal found a message.
type Removal struct {
	AllIndex       int
	PartitionIndex int
}

// Empty reports whether the message was in neither list.
func (r Removal) Empty() bool {
	return r.AllIndex == NotFound && r.PartitionIndex == NotFound
}

// PartitionState is a copy of one partition.
type PartitionState struct {
	Messages []models.Message
	HasMore  bool
	Cursor   *int64
	Loaded   bool
	Loading  bool
}

type partition struct {
	messages []models.Message
	hasMore  bool
	cursor   *int64
	loaded   bool
	loading  bool
	version  uint64
}

func newPartition() *partition {
	return &partition{hasMore: true}
}

func (p *partition) indexOf(id int64) int {
	for i, m := range p.messages {
		if m.ID == id {
			return i
		}
	}
	return NotFound
}

// Options configures a Store.
type Options struct {
	PageSize int
}

// Store is the single source of truth for message lists across partitions.
// Lists are only mutated by Store methods. The lock is never held across a
// remote call and listeners run after it is released.
type Store struct {
	remote   Remote
	dir      apps.Directory
	pageSize int
	bus      *events.Bus
	logger   zerolog.Logger

	mu      sync.Mutex
	parts   map[int64]*partition
	removed map[int64]struct{}
	version uint64
	memo    map[int64]*enrichedView
}

// NewStore creates an empty store.
func NewStore(remote Remote, dir apps.Directory, opts Options) *Store {
	size := opts.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	return &Store{
		remote:   remote,
		dir:      dir,
		pageSize: size,
		bus:      events.NewBus(),
		logger:   logging.Component("messages"),
		parts:    make(map[int64]*partition),
		removed:  make(map[int64]struct{}),
		memo:     make(map[int64]*enrichedView),
	}
}

// Subscribe registers a change listener and returns its unsubscribe func.
func (s *Store) Subscribe(filter events.Filter, handler events.Handler) func() {
	return s.bus.Subscribe(filter, handler)
}

// Version increases with every mutation.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// bump must be called with mu held.
func (s *Store) bump(parts ...*partition) uint64 {
	s.version++
	for _, p := range parts {
		p.version = s.version
	}
	return s.version
}

func (s *Store) partitionLocked(id int64) *partition {
	p, ok := s.parts[id]
	if !ok {
		p = newPartition()
		s.parts[id] = p
	}
	return p
}

// LoadMore fetches the next page of partition and appends it. It is a
// no-op when the partition has no more pages or a load for it is already
// in flight. A result is discarded if the partition was cleared while the
// fetch was outstanding.
func (s *Store) LoadMore(ctx context.Context, id int64) error {
	s.mu.Lock()
	p := s.partitionLocked(id)
	if !p.hasMore || p.loading {
		s.mu.Unlock()
		return nil
	}
	p.loading = true
	var since *int64
	if p.cursor != nil {
		c := *p.cursor
		since = &c
	}
	s.mu.Unlock()

	logger := logging.WithPartition(s.logger, id)
	page, err := s.fetch(ctx, id, since)

	s.mu.Lock()
	if s.parts[id] != p {
		s.mu.Unlock()
		logger.Debug().Msg("discarding page for cleared partition")
		return nil
	}
	p.loading = false
	if err != nil {
		s.mu.Unlock()
		logger.Debug().Err(err).Msg("page load failed")
		return fmt.Errorf("load partition %d: %w", id, err)
	}

	added := 0
	for _, m := range page.Messages {
		if id != models.PartitionAll && m.AppID != id {
			continue
		}
		if _, gone := s.removed[m.ID]; gone {
			continue
		}
		if p.indexOf(m.ID) != NotFound {
			continue
		}
		p.messages = append(p.messages, m)
		added++
	}
	p.hasMore = page.Paging.HasMore()
	p.cursor = page.Paging.Since
	p.loaded = true
	version := s.bump(p)
	hasMore := p.hasMore
	s.mu.Unlock()

	logger.Debug().Int("added", added).Bool("has_more", hasMore).Msg("page loaded")
	s.bus.Publish(events.Event{Kind: events.KindLoaded, Partitions: []int64{id}, Version: version})
	return nil
}

func (s *Store) fetch(ctx context.Context, id int64, since *int64) (models.PagedMessages, error) {
	if id == models.PartitionAll {
		return s.remote.ListMessages(ctx, since, s.pageSize)
	}
	return s.remote.ListApplicationMessages(ctx, id, since, s.pageSize)
}

// Publish head-inserts a pushed message into the aggregate partition and
// its own partition, skipping partitions that were never loaded and lists
// that already hold the id. It reports whether any list changed.
func (s *Store) Publish(m models.Message) bool {
	s.mu.Lock()
	if _, gone := s.removed[m.ID]; gone {
		s.mu.Unlock()
		return false
	}

	var touched []int64
	var changed []*partition
	for _, key := range partitionKeys(m) {
		p, ok := s.parts[key]
		if !ok || !p.loaded || p.indexOf(m.ID) != NotFound {
			continue
		}
		p.messages = append([]models.Message{m}, p.messages...)
		touched = append(touched, key)
		changed = append(changed, p)
	}
	if len(touched) == 0 {
		s.mu.Unlock()
		return false
	}
	version := s.bump(changed...)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Kind: events.KindPublished, Partitions: touched, MessageID: m.ID, Version: version})
	return true
}

// RemoveLocal removes m from the aggregate and owning partition without
// contacting the server.
func (s *Store) RemoveLocal(m models.Message) Removal {
	s.mu.Lock()
	r := Removal{AllIndex: NotFound, PartitionIndex: NotFound}
	var touched []int64
	var changed []*partition
	for _, key := range partitionKeys(m) {
		p, ok := s.parts[key]
		if !ok {
			continue
		}
		idx := p.indexOf(m.ID)
		if idx == NotFound {
			continue
		}
		p.messages = append(p.messages[:idx:idx], p.messages[idx+1:]...)
		if key == models.PartitionAll {
			r.AllIndex = idx
		} else {
			r.PartitionIndex = idx
		}
		touched = append(touched, key)
		changed = append(changed, p)
	}
	if r.Empty() {
		s.mu.Unlock()
		return r
	}
	s.removed[m.ID] = struct{}{}
	version := s.bump(changed...)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Kind: events.KindRemoved, Partitions: touched, MessageID: m.ID, Version: version})
	return r
}

// RestoreLocal re-inserts m at the indices reported by RemoveLocal,
// clamped to the current list lengths. Partitions that are no longer
// loaded and lists that already hold the id are left alone.
func (s *Store) RestoreLocal(m models.Message, r Removal) bool {
	s.mu.Lock()
	delete(s.removed, m.ID)

	var touched []int64
	var changed []*partition
	for _, key := range partitionKeys(m) {
		idx := r.PartitionIndex
		if key == models.PartitionAll {
			idx = r.AllIndex
		}
		if idx == NotFound {
			continue
		}
		p, ok := s.parts[key]
		if !ok || !p.loaded || p.indexOf(m.ID) != NotFound {
			continue
		}
		if idx > len(p.messages) {
			idx = len(p.messages)
		}
		if idx < 0 {
			idx = 0
		}
		p.messages = append(p.messages[:idx:idx], append([]models.Message{m}, p.messages[idx:]...)...)
		touched = append(touched, key)
		changed = append(changed, p)
	}
	if len(touched) == 0 {
		s.mu.Unlock()
		return false
	}
	version := s.bump(changed...)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Kind: events.KindRestored, Partitions: touched, MessageID: m.ID, Version: version})
	return true
}

// RemoveRemote deletes m on the server. Local state is not touched.
func (s *Store) RemoveRemote(ctx context.Context, m models.Message) error {
	if err := s.remote.DeleteMessage(ctx, m.ID); err != nil {
		return fmt.Errorf("delete message %d: %w", m.ID, err)
	}
	logger := logging.WithMessage(s.logger, m.ID)
	logger.Debug().Msg("message deleted")
	return nil
}

// ClearAll resets every partition to the unloaded baseline.
func (s *Store) ClearAll() {
	s.mu.Lock()
	cleared := make([]int64, 0, len(s.parts))
	for id := range s.parts {
		cleared = append(cleared, id)
	}
	s.parts = make(map[int64]*partition)
	s.removed = make(map[int64]struct{})
	s.memo = make(map[int64]*enrichedView)
	version := s.bump()
	s.mu.Unlock()

	sortIDs(cleared)
	s.bus.Publish(events.Event{Kind: events.KindCleared, Partitions: cleared, Version: version})
}

// ClearPartition resets one partition to the unloaded baseline.
func (s *Store) ClearPartition(id int64) {
	s.mu.Lock()
	if _, ok := s.parts[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.parts, id)
	delete(s.memo, id)
	version := s.bump()
	s.mu.Unlock()

	s.bus.Publish(events.Event{Kind: events.KindCleared, Partitions: []int64{id}, Version: version})
}

// DeletePartition deletes every message of a partition on the server and
// then drops them locally. For the aggregate partition that is everything.
func (s *Store) DeletePartition(ctx context.Context, id int64) error {
	if id == models.PartitionAll {
		if err := s.remote.DeleteMessages(ctx); err != nil {
			return fmt.Errorf("delete all messages: %w", err)
		}
		s.ClearAll()
		return nil
	}

	if err := s.remote.DeleteApplicationMessages(ctx, id); err != nil {
		return fmt.Errorf("delete messages of application %d: %w", id, err)
	}

	s.mu.Lock()
	touched := []int64{id}
	delete(s.parts, id)
	delete(s.memo, id)
	var changed []*partition
	if all, ok := s.parts[models.PartitionAll]; ok {
		kept := all.messages[:0:0]
		for _, m := range all.messages {
			if m.AppID != id {
				kept = append(kept, m)
			}
		}
		if len(kept) != len(all.messages) {
			all.messages = kept
			touched = append(touched, models.PartitionAll)
			changed = append(changed, all)
		}
	}
	version := s.bump(changed...)
	s.mu.Unlock()

	s.bus.Publish(events.Event{Kind: events.KindCleared, Partitions: touched, Version: version})
	return nil
}

// Loaded lists partitions that hold at least one loaded page.
func (s *Store) Loaded() []int64 {
	s.mu.Lock()
	out := make([]int64, 0, len(s.parts))
	for id, p := range s.parts {
		if p.loaded {
			out = append(out, id)
		}
	}
	s.mu.Unlock()

	sortIDs(out)
	return out
}

// Snapshot returns a copy of the partition state. Unknown partitions
// report the unloaded baseline.
func (s *Store) Snapshot(id int64) PartitionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parts[id]
	if !ok {
		return PartitionState{HasMore: true}
	}
	state := PartitionState{
		Messages: append([]models.Message(nil), p.messages...),
		HasMore:  p.hasMore,
		Loaded:   p.loaded,
		Loading:  p.loading,
	}
	if p.cursor != nil {
		c := *p.cursor
		state.Cursor = &c
	}
	return state
}

// Find returns the message with id from the aggregate or any partition.
func (s *Store) Find(id int64) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if all, ok := s.parts[models.PartitionAll]; ok {
		if idx := all.indexOf(id); idx != NotFound {
			return all.messages[idx], true
		}
	}
	for key, p := range s.parts {
		if key == models.PartitionAll {
			continue
		}
		if idx := p.indexOf(id); idx != NotFound {
			return p.messages[idx], true
		}
	}
	return models.Message{}, false
}

func partitionKeys(m models.Message) []int64 {
	if m.AppID == models.PartitionAll {
		return []int64{models.PartitionAll}
	}
	return []int64{models.PartitionAll, m.AppID}
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
