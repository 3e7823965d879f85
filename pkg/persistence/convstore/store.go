package convstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/oakmere/chatvault/pkg/chat"
)

// ErrCorrupt marks a load failure where the backing data cannot be decoded
// at all. Callers treat it as a destructive-recovery trigger.
var ErrCorrupt = errors.New("convstore: corrupt store")

// ConversationStore durably serializes conversation documents. Writes are
// atomic per document but not transactional across documents.
type ConversationStore interface {
	LoadAll(ctx context.Context) ([]*chat.Conversation, error)
	Save(ctx context.Context, doc *chat.Conversation) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Close() error
}
