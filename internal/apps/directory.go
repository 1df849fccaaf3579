// Package apps maps application ids to display metadata.
package apps

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/pushdeck/internal/logging"
	"github.com/tOgg1/pushdeck/internal/models"
)

// Info is the display metadata of one application.
type Info struct {
	ID      int64
	Name    string
	IconURL string
}

// Directory resolves partitions to display metadata.
type Directory interface {
	// Get returns the metadata for id.
	Get(id int64) (Info, bool)

	// Version changes whenever any entry changes.
	Version() uint64
}

// Lister fetches the application list from the server.
type Lister interface {
	ListApplications(ctx context.Context) ([]models.Application, error)
}

// URLResolver turns a server-relative image path into an absolute URL.
type URLResolver interface {
	ResolveURL(path string) string
}

// Registry is a Directory refreshed from the server.
type Registry struct {
	lister   Lister
	resolver URLResolver
	logger   zerolog.Logger

	mu      sync.RWMutex
	entries map[int64]Info
	version uint64
}

// NewRegistry creates an empty registry. resolver may be nil, in which
// case image paths are used as-is.
func NewRegistry(lister Lister, resolver URLResolver) *Registry {
	return &Registry{
		lister:   lister,
		resolver: resolver,
		logger:   logging.Component("apps"),
		entries:  make(map[int64]Info),
	}
}

// Refresh replaces the registry contents with the server's list.
func (r *Registry) Refresh(ctx context.Context) error {
	list, err := r.lister.ListApplications(ctx)
	if err != nil {
		return fmt.Errorf("list applications: %w", err)
	}

	entries := make(map[int64]Info, len(list))
	for _, app := range list {
		icon := app.Image
		if r.resolver != nil {
			icon = r.resolver.ResolveURL(app.Image)
		}
		entries[app.ID] = Info{ID: app.ID, Name: app.Name, IconURL: icon}
	}

	r.mu.Lock()
	changed := !sameEntries(r.entries, entries)
	if changed {
		r.entries = entries
		r.version++
	}
	r.mu.Unlock()

	r.logger.Debug().
		Int("count", len(entries)).
		Bool("changed", changed).
		Msg("applications refreshed")
	return nil
}

// Put adds or replaces one entry.
func (r *Registry) Put(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[info.ID]; ok && existing == info {
		return
	}
	r.entries[info.ID] = info
	r.version++
}

// Reset empties the registry, as on logout.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return
	}
	r.entries = make(map[int64]Info)
	r.version++
}

func (r *Registry) Get(id int64) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.entries[id]
	return info, ok
}

func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// List returns every entry ordered by name, then id.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.entries))
	for _, info := range r.entries {
		out = append(out, info)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sameEntries(a, b map[int64]Info) bool {
	if len(a) != len(b) {
		return false
	}
	for id, info := range a {
		if b[id] != info {
			return false
		}
	}
	return true
}
