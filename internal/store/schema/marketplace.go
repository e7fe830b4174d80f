package schema

import "math/big"

// User aggregates marketplace activity for one address
type User struct {
	ID                  string   `json:"id"` // lowercase address
	TotalListings       uint64   `json:"total_listings"`
	TotalPurchases      uint64   `json:"total_purchases"`
	TotalSales          uint64   `json:"total_sales"`
	TotalVolumeAsBuyer  *big.Int `json:"total_volume_as_buyer"`
	TotalVolumeAsSeller *big.Int `json:"total_volume_as_seller"`
	FirstActivityAt     uint64   `json:"first_activity_at"` // set once
	LastActivityAt      uint64   `json:"last_activity_at"`
}

func (u *User) EntityKind() Kind { return KindUser }
func (u *User) EntityID() string { return u.ID }

// Listing is created by a Listed event. Price is immutable; IsSold flips once.
type Listing struct {
	ID              string   `json:"id"` // {txHash}-{logIndex}
	Seller          string   `json:"seller"`
	NFTAddress      string   `json:"nft_address"`
	TokenID         *big.Int `json:"token_id"`
	Price           *big.Int `json:"price"`
	IsSold          bool     `json:"is_sold"`
	ListedAt        uint64   `json:"listed_at"`
	SoldAt          *uint64  `json:"sold_at,omitempty"`
	TransactionHash string   `json:"transaction_hash"`

	// A relist of the same item supersedes an open listing
	IsCancelled  bool    `json:"is_cancelled"`
	CancelledAt  *uint64 `json:"cancelled_at,omitempty"`
	SupersededBy *string `json:"superseded_by,omitempty"`
}

func (l *Listing) EntityKind() Kind { return KindListing }
func (l *Listing) EntityID() string { return l.ID }

// Purchase is created exactly once per Bought event
type Purchase struct {
	ID              string   `json:"id"` // {txHash}-{logIndex}
	Buyer           string   `json:"buyer"`
	Seller          string   `json:"seller"`
	SellerResolved  bool     `json:"seller_resolved"`
	Listing         *string  `json:"listing,omitempty"` // set iff correlation succeeded
	NFTAddress      string   `json:"nft_address"`
	TokenID         *big.Int `json:"token_id"`
	Price           *big.Int `json:"price"`
	Timestamp       uint64   `json:"timestamp"`
	TransactionHash string   `json:"transaction_hash"`
}

func (p *Purchase) EntityKind() Kind { return KindPurchase }
func (p *Purchase) EntityID() string { return p.ID }

// Collection aggregates marketplace statistics for one NFT contract
type Collection struct {
	ID            string   `json:"id"` // lowercase contract address
	TotalListings uint64   `json:"total_listings"`
	TotalSales    uint64   `json:"total_sales"`
	TotalVolume   *big.Int `json:"total_volume"`
	FloorPrice    *big.Int `json:"floor_price"`   // zero means unset
	CeilingPrice  *big.Int `json:"ceiling_price"` // max sale price
	AveragePrice  *big.Int `json:"average_price"`
	LastSalePrice *big.Int `json:"last_sale_price"`
	CreatedAt     uint64   `json:"created_at"`
	UpdatedAt     uint64   `json:"updated_at"`
}

func (c *Collection) EntityKind() Kind { return KindCollection }
func (c *Collection) EntityID() string { return c.ID }

// MarketplaceStat is the marketplace-wide singleton aggregate
type MarketplaceStat struct {
	ID                  string   `json:"id"`
	TotalListings       uint64   `json:"total_listings"`
	TotalActiveListings uint64   `json:"total_active_listings"`
	TotalSales          uint64   `json:"total_sales"`
	TotalVolume         *big.Int `json:"total_volume"`
	AveragePrice        *big.Int `json:"average_price"`
	TotalCollections    uint64   `json:"total_collections"`
	TotalUsers          uint64   `json:"total_users"`
	UnmatchedPurchases  uint64   `json:"unmatched_purchases"`
	SupersededListings  uint64   `json:"superseded_listings"`
	UpdatedAt           uint64   `json:"updated_at"`
}

func (m *MarketplaceStat) EntityKind() Kind { return KindMarketplaceStat }
func (m *MarketplaceStat) EntityID() string { return m.ID }

// BucketData is a day or week OHLC rollup for a collection or the whole marketplace.
// The four bucket kinds share this shape; Kind tells them apart.
type BucketData struct {
	ID           string   `json:"id"`
	Kind         Kind     `json:"kind"`
	Scope        string   `json:"scope"`        // collection id or "marketplace"
	BucketStart  uint64   `json:"bucket_start"` // day start or week start
	Volume       *big.Int `json:"volume"`
	Sales        uint64   `json:"sales"`
	Listings     uint64   `json:"listings"`
	Open         *big.Int `json:"open"`
	High         *big.Int `json:"high"`
	Low          *big.Int `json:"low"`
	Close        *big.Int `json:"close"`
	AvgSalePrice *big.Int `json:"avg_sale_price"`
}

func (b *BucketData) EntityKind() Kind { return b.Kind }
func (b *BucketData) EntityID() string { return b.ID }

// ActiveListing maps an item to its currently open listing.
// An empty ListingID means no listing is open.
type ActiveListing struct {
	ID         string   `json:"id"` // {nftAddress}-{tokenId}
	NFTAddress string   `json:"nft_address"`
	TokenID    *big.Int `json:"token_id"`
	ListingID  string   `json:"listing_id"`
}

func (a *ActiveListing) EntityKind() Kind { return KindActiveListing }
func (a *ActiveListing) EntityID() string { return a.ID }
