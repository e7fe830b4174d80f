package schema

import "math/big"

// NFT tracks ownership and metadata of a single token
type NFT struct {
	ID               string   `json:"id"` // {contract}-{tokenId}
	Contract         string   `json:"contract"`
	TokenID          *big.Int `json:"token_id"`
	Owner            string   `json:"owner"`
	TokenURI         string   `json:"token_uri"`
	Name             string   `json:"name"`
	Description      string   `json:"description"`
	Image            string   `json:"image"`
	MetadataHash     string   `json:"metadata_hash,omitempty"` // sha256 of canonical metadata JSON
	MetadataResolved bool     `json:"metadata_resolved"`
	Burned           bool     `json:"burned"`
	CreatedAt        uint64   `json:"created_at"`
	UpdatedAt        uint64   `json:"updated_at"`
}

func (n *NFT) EntityKind() Kind { return KindNFT }
func (n *NFT) EntityID() string { return n.ID }

// NFTCollection tracks supply of a collection contract
type NFTCollection struct {
	ID          string `json:"id"` // lowercase contract address
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply uint64 `json:"total_supply"`
	TotalBurned uint64 `json:"total_burned"`
	CreatedAt   uint64 `json:"created_at"`
}

func (c *NFTCollection) EntityKind() Kind { return KindNFTCollection }
func (c *NFTCollection) EntityID() string { return c.ID }

// NFTAttribute holds one trait of an NFT, last write wins per trait type
type NFTAttribute struct {
	ID        string `json:"id"` // {nftId}-{traitType}
	NFT       string `json:"nft"`
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

func (a *NFTAttribute) EntityKind() Kind { return KindNFTAttribute }
func (a *NFTAttribute) EntityID() string { return a.ID }

// Transfer is the immutable provenance record of a mint, transfer or burn
type Transfer struct {
	ID              string   `json:"id"` // {txHash}-{logIndex}
	NFT             string   `json:"nft"`
	Contract        string   `json:"contract"`
	TokenID         *big.Int `json:"token_id"`
	From            string   `json:"from"`
	To              string   `json:"to"`
	BlockNumber     uint64   `json:"block_number"`
	Timestamp       uint64   `json:"timestamp"`
	TransactionHash string   `json:"transaction_hash"`
}

func (t *Transfer) EntityKind() Kind { return KindTransfer }
func (t *Transfer) EntityID() string { return t.ID }
