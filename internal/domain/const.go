package domain

const (
	// Gateway constants
	DEFAULT_IPFS_GATEWAY    = "https://ipfs.io"
	DEFAULT_ARWEAVE_GATEWAY = "https://arweave.net"

	// ZeroAddress is the lowercase zero address. A transfer from it is a mint, to it a burn.
	ZeroAddress = "0x0000000000000000000000000000000000000000"

	// MarketplaceStatID is the fixed key of the marketplace-wide aggregate
	MarketplaceStatID = "marketplace-stats"

	// MarketplaceScopeID prefixes global time bucket ids
	MarketplaceScopeID = "marketplace"

	// UnresolvedSeller is recorded as the seller of a purchase whose listing could not be found
	UnresolvedSeller = "unresolved"
)
