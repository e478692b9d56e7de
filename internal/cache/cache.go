package cache

import (
	"context"
	"time"
)

// MessageCache records outbound message handles and deduplicates inbound
// webhook deliveries.
type MessageCache interface {
	StoreSent(ctx context.Context, postcardID, messageHandle string, sentAt time.Time) error

	// MarkInbound reports true the first time a handle is seen within the TTL.
	MarkInbound(ctx context.Context, messageHandle string) (bool, error)

	// ReleaseInbound forgets a handle so a redelivery is processed again.
	ReleaseInbound(ctx context.Context, messageHandle string) error
}
