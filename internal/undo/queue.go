// Package undo implements optimistic deletes with a timed undo window.
package undo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/pushdeck/internal/clock"
	"github.com/tOgg1/pushdeck/internal/logging"
	"github.com/tOgg1/pushdeck/internal/messages"
	"github.com/tOgg1/pushdeck/internal/models"
	"github.com/tOgg1/pushdeck/internal/notify"
)

// DefaultWindow is how long a delete can be undone.
const DefaultWindow = 5 * time.Second

// DefaultFinalizeTimeout bounds a timer-driven remote delete.
const DefaultFinalizeTimeout = 10 * time.Second

// Store is the subset of messages.Store the queue mutates.
type Store interface {
	RemoveLocal(m models.Message) messages.Removal
	RestoreLocal(m models.Message, r messages.Removal) bool
	RemoveRemote(ctx context.Context, m models.Message) error
}

// Options configures a Queue.
type Options struct {
	Window          time.Duration
	FinalizeTimeout time.Duration
	Clock           clock.Clock
	Sink            notify.Sink

	// OnError observes failed remote deletes after the local restore.
	OnError func(m models.Message, err error)
}

type pending struct {
	message     models.Message
	view        int64
	removal     messages.Removal
	deadline    time.Time
	timer       clock.Timer
	closePrompt func()

	// ready is false while RequestDeleteIn is still removing the message
	// locally. flush is set when FinalizePending claimed it meanwhile.
	ready bool
	flush context.Context
}

// Queue tracks deletes that are visible locally but not yet sent.
// Per message id the lifecycle is none, pending, then finalized or
// restored. Whichever of Undo and finalization removes the pending
// record first wins; the other becomes a no-op.
type Queue struct {
	store  Store
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	pending  map[int64]*pending
	inflight int
	idle     *sync.Cond
}

// NewQueue creates a queue over store.
func NewQueue(store Store, opts Options) *Queue {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Discard{}
	}
	q := &Queue{
		store:   store,
		opts:    opts,
		logger:  logging.Component("undo"),
		pending: make(map[int64]*pending),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// RequestDelete removes m locally and opens an undo window. The record
// is scoped to m's own partition.
func (q *Queue) RequestDelete(m models.Message) bool {
	return q.RequestDeleteIn(m, m.AppID)
}

// RequestDeleteIn is RequestDelete issued from the view of partition
// view. It is a no-op if a delete for m is already pending or m is not
// present in any list.
func (q *Queue) RequestDeleteIn(m models.Message, view int64) bool {
	q.mu.Lock()
	if _, exists := q.pending[m.ID]; exists {
		q.mu.Unlock()
		return false
	}
	// Reserve the id so a concurrent request for the same message backs off.
	rec := &pending{message: m, view: view}
	q.pending[m.ID] = rec
	q.mu.Unlock()

	logger := logging.WithMessage(q.logger, m.ID)
	removal := q.store.RemoveLocal(m)
	if removal.Empty() {
		q.mu.Lock()
		delete(q.pending, m.ID)
		flushed := rec.flush != nil
		q.mu.Unlock()
		if flushed {
			q.release()
		}
		logger.Debug().Msg("delete skipped, message not present")
		return false
	}

	deadline := q.opts.Clock.Now().Add(q.opts.Window)
	closePrompt := q.opts.Sink.ShowUndo(notify.NewPrompt(m.ID, promptText(m), deadline))

	q.mu.Lock()
	rec.removal = removal
	rec.deadline = deadline
	if rec.flush != nil {
		delete(q.pending, m.ID)
		ctx := rec.flush
		q.mu.Unlock()

		closePrompt()
		go func() {
			defer q.release()
			_ = q.complete(ctx, rec)
		}()
		return true
	}
	rec.closePrompt = closePrompt
	rec.timer = q.opts.Clock.AfterFunc(q.opts.Window, func() { q.expire(rec) })
	rec.ready = true
	q.mu.Unlock()

	logger.Debug().Time("deadline", deadline).Msg("delete pending")
	return true
}

// Undo restores a pending delete. It reports false when the delete is not
// pending any more, including when finalization already claimed it.
func (q *Queue) Undo(id int64) bool {
	rec := q.claim(id, nil, false)
	if rec == nil {
		return false
	}
	q.store.RestoreLocal(rec.message, rec.removal)
	logger := logging.WithMessage(q.logger, id)
	logger.Debug().Msg("delete undone")
	return true
}

// Dismiss closes the undo prompt without undoing, finalizing right away.
// The remote delete runs in the background; Wait blocks on it.
func (q *Queue) Dismiss(id int64) bool {
	rec := q.claim(id, nil, true)
	if rec == nil {
		return false
	}
	go func() {
		defer q.release()
		ctx, cancel := context.WithTimeout(context.Background(), q.opts.FinalizeTimeout)
		defer cancel()
		_ = q.complete(ctx, rec)
	}()
	return true
}

// Finalize sends the remote delete for a pending message now. A second
// call for the same id is a no-op returning nil.
func (q *Queue) Finalize(ctx context.Context, id int64) error {
	rec := q.claim(id, nil, true)
	if rec == nil {
		return nil
	}
	defer q.release()
	return q.complete(ctx, rec)
}

// FinalizePending force-finalizes pending deletes matching scope, as on
// shutdown. models.PartitionAll matches everything; otherwise a record
// matches when it was issued from scope, from the aggregate view, or
// belongs to scope. Remote deletes run in the background; it returns the
// number started.
func (q *Queue) FinalizePending(ctx context.Context, scope int64) int {
	q.mu.Lock()
	var claimed []*pending
	started := 0
	for id, rec := range q.pending {
		if !matches(rec, scope) {
			continue
		}
		if !rec.ready {
			if rec.flush == nil {
				rec.flush = ctx
				q.inflight++
				started++
			}
			continue
		}
		delete(q.pending, id)
		rec.timer.Stop()
		q.inflight++
		claimed = append(claimed, rec)
	}
	q.mu.Unlock()

	for _, rec := range claimed {
		rec.closePrompt()
		go func() {
			defer q.release()
			_ = q.complete(ctx, rec)
		}()
	}
	started += len(claimed)
	if started > 0 {
		q.logger.Info().Int("count", started).Int64("scope", scope).Msg("flushing pending deletes")
	}
	return started
}

// Wait blocks until every background remote delete has finished or ctx
// is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for q.inflight > 0 {
			q.idle.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for pending deletes: %w", ctx.Err())
	}
}

// Pending returns the number of open undo windows.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, rec := range q.pending {
		if rec.ready {
			n++
		}
	}
	return n
}

// IsPending reports whether a delete for id is waiting on its window.
func (q *Queue) IsPending(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.pending[id]
	return ok && rec.ready
}

func matches(rec *pending, scope int64) bool {
	if scope == models.PartitionAll || rec.view == models.PartitionAll {
		return true
	}
	return rec.view == scope || rec.message.AppID == scope
}

func (q *Queue) expire(rec *pending) {
	if q.claim(rec.message.ID, rec, true) == nil {
		return
	}
	defer q.release()
	ctx, cancel := context.WithTimeout(context.Background(), q.opts.FinalizeTimeout)
	defer cancel()
	_ = q.complete(ctx, rec)
}

// claim removes the pending record for id. When want is set only that
// exact record is claimed, so a stale timer cannot take a newer record.
// A finalize claim counts as in flight until release.
func (q *Queue) claim(id int64, want *pending, finalize bool) *pending {
	q.mu.Lock()
	rec, ok := q.pending[id]
	if !ok || !rec.ready || (want != nil && rec != want) {
		q.mu.Unlock()
		return nil
	}
	delete(q.pending, id)
	rec.timer.Stop()
	if finalize {
		q.inflight++
	}
	q.mu.Unlock()

	rec.closePrompt()
	return rec
}

func (q *Queue) release() {
	q.mu.Lock()
	q.inflight--
	if q.inflight == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()
}

func (q *Queue) complete(ctx context.Context, rec *pending) error {
	logger := logging.WithMessage(q.logger, rec.message.ID)
	err := q.store.RemoveRemote(ctx, rec.message)
	if err == nil {
		logger.Debug().Msg("delete finalized")
		return nil
	}

	q.store.RestoreLocal(rec.message, rec.removal)
	logger.Warn().Err(err).Msg("delete failed, restored")
	q.opts.Sink.Notify(notify.Notice{
		Level: notify.LevelError,
		Text:  "Delete failed, message restored",
		At:    q.opts.Clock.Now(),
	})
	if q.opts.OnError != nil {
		q.opts.OnError(rec.message, err)
	}
	return err
}

func promptText(m models.Message) string {
	if m.Title != "" {
		return fmt.Sprintf("Deleted %q", m.Title)
	}
	return "Message deleted"
}
