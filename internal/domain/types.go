package domain

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Chain represents the blockchain network identifier using CAIP-2 format
type Chain string

const (
	ChainEthereumMainnet Chain = "eip155:1"
	ChainEthereumSepolia Chain = "eip155:11155111"
)

// IsValidChain checks if a chain is valid
func IsValidChain(chain Chain) bool {
	return chain == ChainEthereumMainnet ||
		chain == ChainEthereumSepolia
}

// Slug returns a subject-safe form of the chain identifier, e.g. "eip155-1"
func (c Chain) Slug() string {
	return strings.ReplaceAll(string(c), ":", "-")
}

// EventKind is the tag of the Event union
type EventKind string

const (
	EventKindListed      EventKind = "listed"
	EventKindBought      EventKind = "bought"
	EventKindMinted      EventKind = "minted"
	EventKindTransferred EventKind = "transferred"
)

// ListedPayload is emitted by the marketplace when a seller lists an item
type ListedPayload struct {
	Seller     string   `json:"seller"`
	NFTAddress string   `json:"nft_address"`
	TokenID    *big.Int `json:"token_id"`
	Price      *big.Int `json:"price"`
}

// BoughtPayload is emitted by the marketplace when an item is purchased.
// It carries no reference to the listing it fulfils.
type BoughtPayload struct {
	Buyer      string   `json:"buyer"`
	NFTAddress string   `json:"nft_address"`
	TokenID    *big.Int `json:"token_id"`
	Price      *big.Int `json:"price"`
}

// MintedPayload is emitted by a collection contract when a token is created
type MintedPayload struct {
	To       string   `json:"to"`
	TokenID  *big.Int `json:"token_id"`
	TokenURI string   `json:"token_uri,omitempty"`
}

// TransferredPayload is an ERC721 transfer on a collection contract
type TransferredPayload struct {
	From    string   `json:"from"`
	To      string   `json:"to"`
	TokenID *big.Int `json:"token_id"`
}

// Event is a decoded on-chain event delivered to the aggregation engine.
// Exactly one payload matching Kind is set.
// This is the standard format published to NATS.
type Event struct {
	Kind           EventKind `json:"kind"`
	Chain          Chain     `json:"chain"`
	Contract       string    `json:"contract"` // emitting contract address
	TxHash         string    `json:"tx_hash"`
	LogIndex       uint64    `json:"log_index"`
	BlockNumber    uint64    `json:"block_number"`
	BlockTimestamp uint64    `json:"block_timestamp"` // seconds since epoch

	Listed      *ListedPayload      `json:"listed,omitempty"`
	Bought      *BoughtPayload      `json:"bought,omitempty"`
	Minted      *MintedPayload      `json:"minted,omitempty"`
	Transferred *TransferredPayload `json:"transferred,omitempty"`
}

var txHashRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ID returns the deterministic id of the immutable record produced by this event
func (e *Event) ID() string {
	return EventID(e.TxHash, e.LogIndex)
}

// EventID builds the `{txHash}-{logIndex}` identifier
func EventID(txHash string, logIndex uint64) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(txHash), logIndex)
}

// Validate checks that all required fields are present and well-formed.
// Any failure wraps ErrMalformedEvent.
func (e *Event) Validate() error {
	if e == nil {
		return malformed("nil event")
	}
	if !txHashRegex.MatchString(e.TxHash) {
		return malformed("invalid tx hash %q", e.TxHash)
	}
	if !common.IsHexAddress(e.Contract) {
		return malformed("invalid contract address %q", e.Contract)
	}

	// Exactly one payload, matching the tag
	set := 0
	for _, p := range []bool{e.Listed != nil, e.Bought != nil, e.Minted != nil, e.Transferred != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return malformed("expected exactly one payload, got %d", set)
	}

	switch e.Kind {
	case EventKindListed:
		p := e.Listed
		if p == nil {
			return malformed("listed event without listed payload")
		}
		if err := validAddresses(p.Seller, p.NFTAddress); err != nil {
			return err
		}
		return validAmounts(p.TokenID, p.Price)
	case EventKindBought:
		p := e.Bought
		if p == nil {
			return malformed("bought event without bought payload")
		}
		if err := validAddresses(p.Buyer, p.NFTAddress); err != nil {
			return err
		}
		return validAmounts(p.TokenID, p.Price)
	case EventKindMinted:
		p := e.Minted
		if p == nil {
			return malformed("minted event without minted payload")
		}
		if err := validAddresses(p.To); err != nil {
			return err
		}
		if IsZeroAddress(p.To) {
			return malformed("mint to zero address")
		}
		return validAmounts(p.TokenID)
	case EventKindTransferred:
		p := e.Transferred
		if p == nil {
			return malformed("transferred event without transferred payload")
		}
		if err := validAddresses(p.From, p.To); err != nil {
			return err
		}
		return validAmounts(p.TokenID)
	default:
		return fmt.Errorf("%w: %w: %q", ErrMalformedEvent, ErrUnknownEventKind, e.Kind)
	}
}

func validAddresses(addresses ...string) error {
	for _, a := range addresses {
		if !common.IsHexAddress(a) {
			return malformed("invalid address %q", a)
		}
	}
	return nil
}

func validAmounts(amounts ...*big.Int) error {
	for _, a := range amounts {
		if a == nil {
			return malformed("missing numeric field")
		}
		if a.Sign() < 0 {
			return malformed("negative numeric field %s", a.String())
		}
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// NormalizeAddress renders an address as lowercase hex, the form used in entity ids
func NormalizeAddress(address string) string {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex())
}

// IsZeroAddress reports whether the address is the zero address
func IsZeroAddress(address string) bool {
	return NormalizeAddress(address) == ZeroAddress
}

// SanitizeText strips NUL characters from text read off chain or out of token
// metadata. jsonb rejects the \u0000 escape they encode to.
func SanitizeText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
