// Package rollup maintains day and week OHLC buckets per collection and for
// the whole marketplace.
package rollup

import (
	"context"
	"fmt"
	"math/big"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
	"github.com/feral-file/ff-marketplace-indexer/internal/types"
)

// Width is a bucket width in seconds
type Width uint64

const (
	Day  Width = 86400
	Week Width = 604800
)

// Widths lists every maintained bucket width
var Widths = []Width{Day, Week}

// BucketStart returns the start of the bucket containing ts
func BucketStart(ts uint64, width Width) uint64 {
	return ts / uint64(width) * uint64(width)
}

// Scope selects the dimension of a bucket: one collection or the marketplace
type Scope struct {
	id         string
	collection bool
}

// CollectionScope scopes buckets to one collection
func CollectionScope(collectionID string) Scope {
	return Scope{id: domain.NormalizeAddress(collectionID), collection: true}
}

// MarketplaceScope scopes buckets to the whole marketplace
func MarketplaceScope() Scope {
	return Scope{id: domain.MarketplaceScopeID}
}

// ID returns the scope id used as bucket id prefix
func (s Scope) ID() string {
	return s.id
}

// Kind returns the entity kind of this scope's bucket at the given width
func (s Scope) Kind(width Width) schema.Kind {
	switch {
	case s.collection && width == Week:
		return schema.KindCollectionWeekData
	case s.collection:
		return schema.KindCollectionDayData
	case width == Week:
		return schema.KindMarketplaceWeekData
	default:
		return schema.KindMarketplaceDayData
	}
}

// BucketID returns `{scopeId}-{bucketStart}`
func (s Scope) BucketID(bucketStart uint64) string {
	return fmt.Sprintf("%s-%d", s.id, bucketStart)
}

// Delta is what one event contributes to a bucket. Sales and Listings are 0 or 1.
type Delta struct {
	Price    *big.Int
	Sales    uint64
	Listings uint64
}

// Update applies delta to the day and week buckets of scope containing ts
func Update(ctx context.Context, s *store.Session, scope Scope, ts uint64, delta Delta) error {
	for _, width := range Widths {
		kind := scope.Kind(width)
		start := BucketStart(ts, width)
		id := scope.BucketID(start)

		b, err := store.Get[schema.BucketData](ctx, s, kind, id)
		if err != nil {
			return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
		}
		if b == nil {
			b = New(kind, scope.id, id, start, delta.Price)
		}

		Apply(b, delta)
		s.Put(b)
	}

	return nil
}

// New creates a zeroed bucket. A non-zero first price seeds open, high, low and close.
func New(kind schema.Kind, scopeID, id string, bucketStart uint64, price *big.Int) *schema.BucketData {
	b := &schema.BucketData{
		ID:           id,
		Kind:         kind,
		Scope:        scopeID,
		BucketStart:  bucketStart,
		Volume:       types.BigZero(),
		Open:         types.BigZero(),
		High:         types.BigZero(),
		Low:          types.BigZero(),
		Close:        types.BigZero(),
		AvgSalePrice: types.BigZero(),
	}
	if !types.BigIsZero(price) {
		b.Open = types.BigOrZero(price)
		b.High = types.BigOrZero(price)
		b.Low = types.BigOrZero(price)
		b.Close = types.BigOrZero(price)
	}
	return b
}

// Apply accumulates delta into b. Open is never changed here; a zero high or
// low counts as unset so the first non-zero price becomes both.
func Apply(b *schema.BucketData, delta Delta) {
	b.Volume = types.BigAdd(b.Volume, delta.Price)
	b.Sales += delta.Sales
	b.Listings += delta.Listings

	if types.BigIsZero(delta.Price) {
		return
	}

	price := delta.Price
	b.Close = new(big.Int).Set(price)
	if types.BigIsZero(b.High) || price.Cmp(b.High) > 0 {
		b.High = new(big.Int).Set(price)
	}
	if types.BigIsZero(b.Low) || price.Cmp(b.Low) < 0 {
		b.Low = new(big.Int).Set(price)
	}
	if b.Sales > 0 {
		b.AvgSalePrice = types.BigQuo(b.Volume, b.Sales)
	}
}
