package messages

import (
	"github.com/tOgg1/pushdeck/internal/models"
)

// Enriched is a message joined with its application's display metadata.
type Enriched struct {
	Item    models.Message
	AppName string
	IconURL string
}

type enrichedView struct {
	storeVersion uint64
	dirVersion   uint64
	items        []Enriched
}

// Enriched returns the partition's messages joined with application
// metadata. The join is memoized per partition and recomputed on read
// once the partition or the directory has changed.
func (s *Store) Enriched(id int64) []Enriched {
	var dirVersion uint64
	if s.dir != nil {
		dirVersion = s.dir.Version()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.parts[id]
	if !ok {
		return nil
	}
	if view, ok := s.memo[id]; ok && view.storeVersion == p.version && view.dirVersion == dirVersion {
		return view.items
	}

	items := make([]Enriched, len(p.messages))
	for i, m := range p.messages {
		items[i] = Enriched{Item: m}
		if s.dir == nil {
			continue
		}
		if info, ok := s.dir.Get(m.AppID); ok {
			items[i].AppName = info.Name
			items[i].IconURL = info.IconURL
		}
	}
	s.memo[id] = &enrichedView{storeVersion: p.version, dirVersion: dirVersion, items: items}
	return items
}
