package domain

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testTxHash  = "0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060"
	testSeller  = "0x396343362be2A4dA1cE0C1C210945346fb82Aa49"
	testNFT     = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
	testMarket  = "0x00000000006c3852cbEf3e08E8dF289169EdE581"
	testBuyer   = "0x8ba1f109551bD432803012645Ac136ddd64DBA72"
	testTokenID = 42
)

func validListed() Event {
	return Event{
		Kind:           EventKindListed,
		Chain:          ChainEthereumMainnet,
		Contract:       testMarket,
		TxHash:         testTxHash,
		LogIndex:       3,
		BlockNumber:    100,
		BlockTimestamp: 1_700_000_000,
		Listed: &ListedPayload{
			Seller:     testSeller,
			NFTAddress: testNFT,
			TokenID:    big.NewInt(testTokenID),
			Price:      big.NewInt(1000),
		},
	}
}

func TestIsValidChain(t *testing.T) {
	tests := []struct {
		name     string
		chain    Chain
		expected bool
	}{
		{name: "valid ethereum mainnet", chain: ChainEthereumMainnet, expected: true},
		{name: "valid ethereum sepolia", chain: ChainEthereumSepolia, expected: true},
		{name: "invalid empty chain", chain: Chain(""), expected: false},
		{name: "invalid polygon chain", chain: Chain("eip155:137"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsValidChain(tt.chain))
		})
	}
}

func TestChain_Slug(t *testing.T) {
	assert.Equal(t, "eip155-1", ChainEthereumMainnet.Slug())
	assert.Equal(t, "eip155-11155111", ChainEthereumSepolia.Slug())
}

func TestEvent_ID(t *testing.T) {
	e := validListed()
	e.TxHash = "0xABCDEF" + testTxHash[8:]

	assert.Equal(t, "0xabcdef"+testTxHash[8:]+"-3", e.ID())

	// Same hash with a different log index never collides
	other := e
	other.LogIndex = 4
	assert.NotEqual(t, e.ID(), other.ID())
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *Event)
		wantErr bool
	}{
		{
			name:    "valid listed",
			mutate:  func(e *Event) {},
			wantErr: false,
		},
		{
			name: "valid bought",
			mutate: func(e *Event) {
				e.Kind = EventKindBought
				e.Listed = nil
				e.Bought = &BoughtPayload{Buyer: testBuyer, NFTAddress: testNFT, TokenID: big.NewInt(1), Price: big.NewInt(0)}
			},
			wantErr: false,
		},
		{
			name: "valid minted without token uri",
			mutate: func(e *Event) {
				e.Kind = EventKindMinted
				e.Contract = testNFT
				e.Listed = nil
				e.Minted = &MintedPayload{To: testBuyer, TokenID: big.NewInt(0)}
			},
			wantErr: false,
		},
		{
			name: "valid transferred from zero address",
			mutate: func(e *Event) {
				e.Kind = EventKindTransferred
				e.Contract = testNFT
				e.Listed = nil
				e.Transferred = &TransferredPayload{From: ZeroAddress, To: testBuyer, TokenID: big.NewInt(7)}
			},
			wantErr: false,
		},
		{
			name:    "invalid tx hash",
			mutate:  func(e *Event) { e.TxHash = "0x1234" },
			wantErr: true,
		},
		{
			name:    "epoch timestamp is valid",
			mutate:  func(e *Event) { e.BlockTimestamp = 0 },
			wantErr: false,
		},
		{
			name:    "missing price",
			mutate:  func(e *Event) { e.Listed.Price = nil },
			wantErr: true,
		},
		{
			name:    "negative token id",
			mutate:  func(e *Event) { e.Listed.TokenID = big.NewInt(-1) },
			wantErr: true,
		},
		{
			name:    "invalid seller",
			mutate:  func(e *Event) { e.Listed.Seller = "not-an-address" },
			wantErr: true,
		},
		{
			name:    "kind does not match payload",
			mutate:  func(e *Event) { e.Kind = EventKindBought },
			wantErr: true,
		},
		{
			name: "two payloads",
			mutate: func(e *Event) {
				e.Bought = &BoughtPayload{Buyer: testBuyer, NFTAddress: testNFT, TokenID: big.NewInt(1), Price: big.NewInt(1)}
			},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			mutate:  func(e *Event) { e.Kind = EventKind("cancelled") },
			wantErr: true,
		},
		{
			name: "mint to zero address",
			mutate: func(e *Event) {
				e.Kind = EventKindMinted
				e.Listed = nil
				e.Minted = &MintedPayload{To: ZeroAddress, TokenID: big.NewInt(1)}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validListed()
			tt.mutate(&e)
			err := e.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedEvent))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvent_Validate_Nil(t *testing.T) {
	var e *Event
	assert.ErrorIs(t, e.Validate(), ErrMalformedEvent)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0x396343362be2a4da1ce0c1c210945346fb82aa49", NormalizeAddress(testSeller))
	assert.Equal(t, ZeroAddress, NormalizeAddress("0x0000000000000000000000000000000000000000"))
	assert.True(t, IsZeroAddress("0x0000000000000000000000000000000000000000"))
	assert.False(t, IsZeroAddress(testSeller))
}

func TestSanitizeText(t *testing.T) {
	assert.Equal(t, "Glyphs", SanitizeText("Glyphs\x00\x00\x00"))
	assert.Equal(t, "badname", SanitizeText("bad\x00name"))
	assert.Equal(t, "plain", SanitizeText("plain"))
	assert.Empty(t, SanitizeText("\x00"))
}
