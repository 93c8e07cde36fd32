package roster

import (
	"context"

	"borderwatch/internal/model"
)

// Source is the remote identity collection: one document per identity,
// change-notified. The channel returned by Subscribe delivers one
// (possibly coalesced) signal per upstream change and is closed when
// the subscription fails fatally.
type Source interface {
	Load(ctx context.Context) ([]model.IdentityDocument, error)
	Append(ctx context.Context, doc model.IdentityDocument) error
	Subscribe(ctx context.Context) (<-chan struct{}, error)
	Close() error
}
