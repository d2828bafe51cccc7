package gateway

import (
	"context"

	"github.com/zono819/winbot/internal/domain/entity"
)

// MarketFeed streams market snapshots until ctx is cancelled
type MarketFeed interface {
	// Name returns the feed identifier
	Name() string

	// Run delivers snapshots to handler and blocks until ctx is done
	Run(ctx context.Context, handler func(*entity.MarketSnapshot)) error
}
