package notify

import (
	"sort"
	"sync"
	"time"
)

// State is what a front end renders.
type State struct {
	Notices []Notice
	Prompts []Prompt
	Banner  Banner
}

// Feed is a Sink that keeps renderable state and signals changes on a
// coalescing channel.
type Feed struct {
	maxNotices int

	mu      sync.Mutex
	notices []Notice
	prompts map[string]Prompt
	banner  Banner
	changed chan struct{}
}

// NewFeed creates a feed keeping the latest maxNotices notices.
func NewFeed(maxNotices int) *Feed {
	if maxNotices <= 0 {
		maxNotices = 5
	}
	return &Feed{
		maxNotices: maxNotices,
		prompts:    make(map[string]Prompt),
		changed:    make(chan struct{}, 1),
	}
}

// Changed receives a value after one or more updates.
func (f *Feed) Changed() <-chan struct{} {
	return f.changed
}

func (f *Feed) signal() {
	select {
	case f.changed <- struct{}{}:
	default:
	}
}

func (f *Feed) Notify(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	f.mu.Lock()
	f.notices = append(f.notices, n)
	if len(f.notices) > f.maxNotices {
		f.notices = f.notices[len(f.notices)-f.maxNotices:]
	}
	f.mu.Unlock()
	f.signal()
}

func (f *Feed) ShowUndo(p Prompt) func() {
	f.mu.Lock()
	f.prompts[p.ID] = p
	f.mu.Unlock()
	f.signal()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.prompts, p.ID)
			f.mu.Unlock()
			f.signal()
		})
	}
}

func (f *Feed) SetBanner(b Banner) {
	f.mu.Lock()
	if f.banner == b {
		f.mu.Unlock()
		return
	}
	f.banner = b
	f.mu.Unlock()
	f.signal()
}

// DropNoticesBefore forgets notices older than t.
func (f *Feed) DropNoticesBefore(t time.Time) {
	f.mu.Lock()
	kept := f.notices[:0]
	for _, n := range f.notices {
		if !n.At.Before(t) {
			kept = append(kept, n)
		}
	}
	dropped := len(kept) != len(f.notices)
	f.notices = kept
	f.mu.Unlock()
	if dropped {
		f.signal()
	}
}

// State returns a copy of the current state. Prompts are ordered by
// deadline, soonest first.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()

	st := State{
		Notices: append([]Notice(nil), f.notices...),
		Banner:  f.banner,
	}
	for _, p := range f.prompts {
		st.Prompts = append(st.Prompts, p)
	}
	sort.Slice(st.Prompts, func(i, j int) bool {
		if !st.Prompts[i].Deadline.Equal(st.Prompts[j].Deadline) {
			return st.Prompts[i].Deadline.Before(st.Prompts[j].Deadline)
		}
		return st.Prompts[i].MessageID < st.Prompts[j].MessageID
	})
	return st
}
