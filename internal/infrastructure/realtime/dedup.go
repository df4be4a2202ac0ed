package realtime

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"pasargamex-realtime/internal/domain/entity"
)

const DefaultDedupWindow = 1024

// Deduplicator remembers the most recent change keys of one subscription.
// The window is bounded; the oldest keys are evicted first.
type Deduplicator struct {
	seen *lru.Cache[string, int64]
}

func NewDeduplicator(window int) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	cache, err := lru.New[string, int64](window)
	if err != nil {
		// only returned for a non-positive size
		panic(err)
	}
	return &Deduplicator{seen: cache}
}

// Admit reports whether the change is seen for the first time.
func (d *Deduplicator) Admit(change entity.Change) bool {
	found, _ := d.seen.ContainsOrAdd(change.DedupKey(), change.Event.Sequence)
	return !found
}

func (d *Deduplicator) Len() int {
	return d.seen.Len()
}

func (d *Deduplicator) Purge() {
	d.seen.Purge()
}
