// Package inbox implements the inbox (component E, spec.md §4.E): recording
// inbound messages from an external, at-least-once source before handing
// them to the same claim/handle/ack loop outbox uses, so a redelivered
// message_id is ingested once and processed once even if the source has no
// delivery guarantees of its own. Uses the string status encoding
// (Seen/Processing/Done/Dead) spec.md §6 assigns to inbox rows.
package inbox

import (
	"context"
	"fmt"
	"time"

	"github.com/baechuer/queuecore/internal/domain"
	"github.com/baechuer/queuecore/internal/queue"
	"github.com/baechuer/queuecore/internal/storage"
)

type Store interface {
	// Ingest records a message; ok=false means message_id was already seen
	// (ErrConstraintViolation is never returned for this expected case).
	Ingest(ctx context.Context, source, messageID, topic string, payload []byte, hash string, now time.Time) (ok bool, err error)
	queue.PayloadLoader
}

type Inbox struct {
	store  Store
	Engine *queue.Engine
}

func New(adapter storage.Adapter, store Store) *Inbox {
	spec := storage.StringTableSpec("inbox", "first_seen_at")
	return &Inbox{store: store, Engine: queue.New(adapter, spec, store)}
}

// Ingest records an inbound message for processing. A redelivery of the
// same messageID is a no-op (ok=false), never an error: the source is
// assumed to be at-least-once and duplicates are routine, not exceptional.
func (i *Inbox) Ingest(ctx context.Context, source, messageID, topic string, payload []byte, hash string) (ok bool, err error) {
	ok, err = i.store.Ingest(ctx, source, messageID, topic, payload, hash, time.Now())
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrTransientStorage, err)
	}
	return ok, nil
}
