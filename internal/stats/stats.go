// Package stats maintains the running price and volume statistics of
// collections and the marketplace. Averages are always recomputed from the
// running totals with truncating integer division.
package stats

import (
	"math/big"

	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
	"github.com/feral-file/ff-marketplace-indexer/internal/types"
)

// Average returns volume / count truncated toward zero, or zero when count is zero
func Average(volume *big.Int, count uint64) *big.Int {
	return types.BigQuo(volume, count)
}

// ApplyListingPrice counts a listing on the collection and lowers the floor.
// The floor only ever holds non-zero prices; a zero floor means unset.
func ApplyListingPrice(c *schema.Collection, price *big.Int, ts uint64) {
	c.TotalListings++
	if price != nil && price.Sign() > 0 {
		if types.BigIsZero(c.FloorPrice) || price.Cmp(c.FloorPrice) < 0 {
			c.FloorPrice = new(big.Int).Set(price)
		}
	}
	c.UpdatedAt = ts
}

// ApplyCollectionSale accumulates a sale on the collection
func ApplyCollectionSale(c *schema.Collection, price *big.Int, ts uint64) {
	c.TotalSales++
	c.TotalVolume = types.BigAdd(c.TotalVolume, price)
	c.LastSalePrice = types.BigOrZero(price)
	c.CeilingPrice = types.BigMax(c.CeilingPrice, price)
	c.AveragePrice = Average(c.TotalVolume, c.TotalSales)
	c.UpdatedAt = ts
}

// ApplyMarketplaceListing counts a new open listing
func ApplyMarketplaceListing(m *schema.MarketplaceStat, ts uint64) {
	m.TotalListings++
	m.TotalActiveListings++
	m.UpdatedAt = ts
}

// ApplyMarketplaceSale accumulates a sale and closes one active listing.
// TotalActiveListings never goes below zero, even for purchases that matched
// no listing.
func ApplyMarketplaceSale(m *schema.MarketplaceStat, price *big.Int, ts uint64) {
	m.TotalSales++
	m.TotalVolume = types.BigAdd(m.TotalVolume, price)
	if m.TotalActiveListings > 0 {
		m.TotalActiveListings--
	}
	m.AveragePrice = Average(m.TotalVolume, m.TotalSales)
	m.UpdatedAt = ts
}

// ApplySellerSale credits a sale to the seller
func ApplySellerSale(u *schema.User, price *big.Int) {
	u.TotalSales++
	u.TotalVolumeAsSeller = types.BigAdd(u.TotalVolumeAsSeller, price)
}

// ApplyBuyerPurchase credits a purchase to the buyer
func ApplyBuyerPurchase(u *schema.User, price *big.Int) {
	u.TotalPurchases++
	u.TotalVolumeAsBuyer = types.BigAdd(u.TotalVolumeAsBuyer, price)
}
