package vault

import "github.com/oakmere/chatvault/pkg/chat"

// indexCache memoizes conversation id -> position in the ordered list. It
// is a best-effort accelerator, never a source of truth: a hit is validated
// against the live list before being trusted, so it can never return a
// wrong position. Correctness of every mutation holds with an empty cache.
type indexCache struct {
	positions map[string]int
}

func newIndexCache() *indexCache {
	return &indexCache{positions: map[string]int{}}
}

// IndexOf resolves the position of id within list. A stale hit triggers a
// full rebuild and retry; a miss falls back to a linear scan whose result
// is memoized.
func (ic *indexCache) IndexOf(list []*chat.Conversation, id string) (int, bool) {
	if pos, ok := ic.positions[id]; ok {
		if pos < len(list) && list[pos].ID == id {
			return pos, true
		}
		ic.Rebuild(list)
		pos, ok = ic.positions[id]
		return pos, ok
	}
	for i, c := range list {
		if c.ID == id {
			ic.positions[id] = i
			return i, true
		}
	}
	return 0, false
}

// OnInsert records an insertion at the given position, shifting every
// cached position at or after it without a full rebuild.
func (ic *indexCache) OnInsert(id string, at int) {
	for k, pos := range ic.positions {
		if pos >= at {
			ic.positions[k] = pos + 1
		}
	}
	ic.positions[id] = at
}

// OnRemove drops id and shifts every cached position after it down by one.
func (ic *indexCache) OnRemove(id string, at int) {
	delete(ic.positions, id)
	for k, pos := range ic.positions {
		if pos > at {
			ic.positions[k] = pos - 1
		}
	}
}

// Rebuild replaces the cache content from the list, after any bulk replace.
func (ic *indexCache) Rebuild(list []*chat.Conversation) {
	positions := make(map[string]int, len(list))
	for i, c := range list {
		positions[c.ID] = i
	}
	ic.positions = positions
}
