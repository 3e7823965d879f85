package vault

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/oakmere/chatvault/pkg/chat"
	"github.com/oakmere/chatvault/pkg/eventbus"
	"github.com/oakmere/chatvault/pkg/persistence/convstore"
)

// DefaultDebounce is the write-coalescing window.
const DefaultDebounce = 500 * time.Millisecond

// pendingSave is one scheduled, not-yet-fired debounced write. The
// generation token keeps a cancelled timer from issuing a stale write: a
// fire whose generation no longer matches is a no-op.
type pendingSave struct {
	timer *time.Timer
	doc   *chat.Conversation
	gen   uint64
}

// SaveCoordinator serializes writes per conversation id and debounces
// rapid successive mutations into one write. An enqueue marks the id dirty
// synchronously; an id only leaves the dirty set when its write is
// confirmed to have landed, so a failed write keeps memory authoritative
// for the next reconciliation.
type SaveCoordinator struct {
	store    convstore.ConversationStore
	pub      message.Publisher
	debounce time.Duration

	mu      sync.Mutex
	dirty   map[string]struct{}
	pending map[string]*pendingSave
	writers map[string]*sync.Mutex
	nextGen uint64
	closed  bool

	flushWG sync.WaitGroup
}

func NewSaveCoordinator(store convstore.ConversationStore, pub message.Publisher, debounce time.Duration) (*SaveCoordinator, error) {
	if store == nil {
		return nil, errors.New("save coordinator: store is nil")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &SaveCoordinator{
		store:    store,
		pub:      pub,
		debounce: debounce,
		dirty:    map[string]struct{}{},
		pending:  map[string]*pendingSave{},
		writers:  map[string]*sync.Mutex{},
	}, nil
}

// EnqueueSave schedules a debounced write for doc. A pending write for the
// same id has its timer reset and its payload replaced, so the last state
// in a burst wins and at most one write per burst reaches the store.
func (sc *SaveCoordinator) EnqueueSave(doc *chat.Conversation) {
	if sc == nil || doc == nil || doc.ID == "" {
		return
	}
	snapshot := doc.Clone()

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.closed {
		return
	}
	sc.dirty[doc.ID] = struct{}{}
	if p, ok := sc.pending[doc.ID]; ok {
		p.timer.Stop()
	}
	sc.nextGen++
	gen := sc.nextGen
	p := &pendingSave{doc: snapshot, gen: gen}
	p.timer = time.AfterFunc(sc.debounce, func() { sc.fire(snapshot.ID, gen) })
	sc.pending[doc.ID] = p
}

// SaveImmediately cancels any pending debounce for doc and writes now,
// still mutually exclusive with any in-flight write for the same id.
func (sc *SaveCoordinator) SaveImmediately(ctx context.Context, doc *chat.Conversation) error {
	if sc == nil || doc == nil || doc.ID == "" {
		return errors.New("save coordinator: nil doc")
	}
	snapshot := doc.Clone()

	sc.mu.Lock()
	if sc.closed {
		sc.mu.Unlock()
		return errors.New("save coordinator: closed")
	}
	sc.dirty[doc.ID] = struct{}{}
	sc.cancelPendingLocked(doc.ID)
	sc.mu.Unlock()

	return sc.flush(ctx, snapshot)
}

// Delete cancels pending work for id before removing it from the store, so
// a stale write cannot resurrect a deleted document.
func (sc *SaveCoordinator) Delete(ctx context.Context, id string) error {
	if sc == nil || id == "" {
		return errors.New("save coordinator: empty id")
	}
	sc.mu.Lock()
	sc.cancelPendingLocked(id)
	sc.mu.Unlock()

	w := sc.writerFor(id)
	w.Lock()
	err := sc.store.Delete(ctx, id)
	w.Unlock()

	sc.mu.Lock()
	delete(sc.dirty, id)
	sc.mu.Unlock()
	if err != nil {
		return errors.Wrapf(err, "save coordinator: delete %s", id)
	}
	return nil
}

// CancelAllPendingSaves discards every scheduled, not-yet-fired debounce
// timer without writing.
func (sc *SaveCoordinator) CancelAllPendingSaves() {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	for id := range sc.pending {
		sc.cancelPendingLocked(id)
	}
}

// Clear wipes the store: pending timers are cancelled first, then the
// store is cleared and the dirty set reset.
func (sc *SaveCoordinator) Clear(ctx context.Context) error {
	if sc == nil {
		return errors.New("save coordinator: nil coordinator")
	}
	sc.CancelAllPendingSaves()
	if err := sc.store.Clear(ctx); err != nil {
		return errors.Wrap(err, "save coordinator: clear store")
	}
	sc.mu.Lock()
	sc.dirty = map[string]struct{}{}
	sc.mu.Unlock()
	return nil
}

// PendingConversationIDs returns a sorted snapshot of the dirty set.
func (sc *SaveCoordinator) PendingConversationIDs() []string {
	if sc == nil {
		return nil
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	ids := make([]string, 0, len(sc.dirty))
	for id := range sc.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (sc *SaveCoordinator) IsDirty(id string) bool {
	if sc == nil {
		return false
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	_, ok := sc.dirty[id]
	return ok
}

// Close cancels pending timers and waits for in-flight flushes.
func (sc *SaveCoordinator) Close() {
	if sc == nil {
		return
	}
	sc.mu.Lock()
	sc.closed = true
	for id := range sc.pending {
		sc.cancelPendingLocked(id)
	}
	sc.mu.Unlock()
	sc.flushWG.Wait()
}

func (sc *SaveCoordinator) cancelPendingLocked(id string) {
	if p, ok := sc.pending[id]; ok {
		p.timer.Stop()
		delete(sc.pending, id)
	}
}

// fire runs when a debounce timer elapses. A stale generation means the
// entry was re-enqueued or cancelled after this timer was armed.
func (sc *SaveCoordinator) fire(id string, gen uint64) {
	sc.mu.Lock()
	p, ok := sc.pending[id]
	if !ok || p.gen != gen {
		sc.mu.Unlock()
		return
	}
	delete(sc.pending, id)
	doc := p.doc
	sc.flushWG.Add(1)
	sc.mu.Unlock()

	defer sc.flushWG.Done()
	// flush already logs and publishes its own failures
	_ = sc.flush(context.Background(), doc)
}

// flush performs one store write under the per-id writer lock. Success
// clears the id from the dirty set unless a newer enqueue is pending; a
// failure leaves it dirty and broadcasts the failing identifier.
func (sc *SaveCoordinator) flush(ctx context.Context, doc *chat.Conversation) error {
	w := sc.writerFor(doc.ID)
	w.Lock()
	err := sc.store.Save(ctx, doc)
	w.Unlock()

	sc.mu.Lock()
	_, stillPending := sc.pending[doc.ID]
	if err == nil && !stillPending {
		delete(sc.dirty, doc.ID)
	}
	sc.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("conv_id", doc.ID).Msg("conversation save failed, keeping dirty")
		if pubErr := eventbus.PublishSaveFailed(sc.pub, doc.ID, err); pubErr != nil {
			log.Warn().Err(pubErr).Str("conv_id", doc.ID).Msg("failed to publish save failure")
		}
		return errors.Wrapf(err, "save coordinator: save %s", doc.ID)
	}
	return nil
}

func (sc *SaveCoordinator) writerFor(id string) *sync.Mutex {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	w, ok := sc.writers[id]
	if !ok {
		w = &sync.Mutex{}
		sc.writers[id] = w
	}
	return w
}
