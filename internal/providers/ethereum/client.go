package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/block"
	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
)

// Event signatures
var (
	// NFTListed(address indexed seller, address indexed nftAddress, uint256 indexed tokenId, uint256 price)
	listedEventSignature = crypto.Keccak256Hash([]byte("NFTListed(address,address,uint256,uint256)"))

	// NFTBought(address indexed buyer, address indexed nftAddress, uint256 indexed tokenId, uint256 price)
	boughtEventSignature = crypto.Keccak256Hash([]byte("NFTBought(address,address,uint256,uint256)"))

	// NFTMinted(address indexed to, uint256 indexed tokenId, string tokenURI)
	mintedEventSignature = crypto.Keccak256Hash([]byte("NFTMinted(address,uint256,string)"))

	// Transfer event signature - shared by ERC20 and ERC721
	// ERC20: Transfer(address indexed from, address indexed to, uint256 value) - 3 topics
	// ERC721: Transfer(address indexed from, address indexed to, uint256 indexed tokenId) - 4 topics
	transferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

const collectionABIJSON = `[
	{"constant":true,"inputs":[{"name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"payable":false,"stateMutability":"view","type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"to","type":"address"},{"indexed":true,"name":"tokenId","type":"uint256"},{"indexed":false,"name":"tokenURI","type":"string"}],"name":"NFTMinted","type":"event"}
]`

var collectionABI = mustParseABI(collectionABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// EventSignatures returns the topic0 hashes of every event the client decodes
func EventSignatures() []common.Hash {
	return []common.Hash{
		listedEventSignature,
		boughtEventSignature,
		mintedEventSignature,
		transferEventSignature,
	}
}

// MarketplaceClient reads marketplace and collection contracts on an EVM chain
//
//go:generate mockgen -source=client.go -destination=../../mocks/ethereum_client.go -package=mocks -mock_names=MarketplaceClient=MockMarketplaceClient
type MarketplaceClient interface {
	// ParseEventLog decodes a log into an event. It returns nil, nil for logs
	// that are recognised but not indexed, e.g. ERC20 transfers.
	ParseEventLog(ctx context.Context, vLog types.Log) (*domain.Event, error)

	// FilterLogs retrieves logs that match the query, paginating over the block range
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// SubscribeFilterLogs subscribes to filter logs
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)

	// HeaderByNumber returns a header by number
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// TokenURI fetches the tokenURI of an ERC721 token
	TokenURI(ctx context.Context, contract string, tokenID *big.Int) (string, error)

	// Name fetches the ERC721 collection name
	Name(ctx context.Context, contract string) (string, error)

	// Symbol fetches the ERC721 collection symbol
	Symbol(ctx context.Context, contract string) (string, error)

	// Close closes the connection
	Close()
}

type marketplaceClient struct {
	chainID       domain.Chain
	client        adapter.EthClient
	clock         adapter.Clock
	blockProvider block.BlockProvider
}

func NewClient(chainID domain.Chain, client adapter.EthClient, clock adapter.Clock, blockProvider block.BlockProvider) MarketplaceClient {
	return &marketplaceClient{
		chainID:       chainID,
		client:        client,
		clock:         clock,
		blockProvider: blockProvider,
	}
}

// SubscribeFilterLogs subscribes to filter logs
func (c *marketplaceClient) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return c.client.SubscribeFilterLogs(ctx, query, ch)
}

// HeaderByNumber returns a header by number
func (c *marketplaceClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.client.HeaderByNumber(ctx, number)
}

// FilterLogs handles pagination to work around the provider's result limits
func (c *marketplaceClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	start := c.clock.Now()

	timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	// If blockhash is specified, use it directly (no pagination needed)
	if query.BlockHash != nil {
		return c.client.FilterLogs(timeoutCtx, query)
	}

	fromBlock := big.NewInt(0)
	if query.FromBlock != nil {
		fromBlock = query.FromBlock
	}

	toBlock := query.ToBlock
	if toBlock == nil {
		latest, err := c.client.HeaderByNumber(timeoutCtx, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest block: %w", err)
		}
		toBlock = latest.Number
	}

	if fromBlock.Cmp(toBlock) > 0 {
		return nil, nil
	}

	rangeQuery := query
	rangeQuery.FromBlock = new(big.Int).Set(fromBlock)
	rangeQuery.ToBlock = new(big.Int).Set(toBlock)

	logs, err := c.getLogsWithRetry(timeoutCtx, rangeQuery, defaultStepSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for range %d-%d: %w", fromBlock.Uint64(), toBlock.Uint64(), err)
	}

	logger.DebugCtx(ctx, "Filtered logs",
		zap.Uint64("fromBlock", fromBlock.Uint64()),
		zap.Uint64("toBlock", toBlock.Uint64()),
		zap.Int("count", len(logs)),
		zap.Duration("elapsed", c.clock.Since(start)))

	return logs, nil
}

const defaultStepSize = uint64(100_000)

// getLogsWithRetry processes the range from query.FromBlock to query.ToBlock
// in chunks, halving the chunk whenever the provider reports too many results
func (c *marketplaceClient) getLogsWithRetry(ctx context.Context, query ethereum.FilterQuery, stepSize uint64) ([]types.Log, error) {
	currentStepSize := stepSize

	var allLogs []types.Log
	currentFrom := new(big.Int).Set(query.FromBlock)

	for currentFrom.Cmp(query.ToBlock) <= 0 {
		currentTo := new(big.Int).Add(currentFrom, new(big.Int).SetUint64(currentStepSize-1))
		if currentTo.Cmp(query.ToBlock) > 0 {
			currentTo.Set(query.ToBlock)
		}

		chunk := query
		chunk.FromBlock = new(big.Int).Set(currentFrom)
		chunk.ToBlock = new(big.Int).Set(currentTo)

		logs, err := c.client.FilterLogs(ctx, chunk)
		if err == nil {
			allLogs = append(allLogs, logs...)
			currentFrom.SetUint64(currentTo.Uint64() + 1)
			continue
		}

		if !isTooManyResultsError(err) || currentStepSize == 1 {
			return nil, err
		}

		currentStepSize = currentStepSize / 2

		logger.WarnCtx(ctx, "Too many results, reducing step size",
			zap.Uint64("oldStepSize", currentStepSize*2),
			zap.Uint64("newStepSize", currentStepSize),
			zap.Uint64("fromBlock", currentFrom.Uint64()),
			zap.Uint64("toBlock", currentTo.Uint64()))
	}

	return allLogs, nil
}

// isTooManyResultsError checks if the error is related to too many results
func isTooManyResultsError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "query returned more than 10000 results") ||
		strings.Contains(errStr, "query timeout exceeded") ||
		strings.Contains(errStr, "too many results") ||
		strings.Contains(errStr, "exceeded maximum")
}

// TokenURI fetches the tokenURI from an ERC721 contract
func (c *marketplaceClient) TokenURI(ctx context.Context, contract string, tokenID *big.Int) (string, error) {
	return c.callString(ctx, contract, "tokenURI", tokenID)
}

// Name fetches the name of an ERC721 contract
func (c *marketplaceClient) Name(ctx context.Context, contract string) (string, error) {
	return c.callString(ctx, contract, "name")
}

// Symbol fetches the symbol of an ERC721 contract
func (c *marketplaceClient) Symbol(ctx context.Context, contract string) (string, error) {
	return c.callString(ctx, contract, "symbol")
}

// callString calls a view function returning a single string
func (c *marketplaceClient) callString(ctx context.Context, contract string, method string, args ...interface{}) (string, error) {
	if !common.IsHexAddress(contract) {
		return "", fmt.Errorf("invalid contract address: %s", contract)
	}

	data, err := collectionABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}

	contractAddr := common.HexToAddress(contract)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to call contract: %w", err)
	}

	var out string
	if err := collectionABI.UnpackIntoInterface(&out, method, result); err != nil {
		return "", fmt.Errorf("failed to unpack result: %w", err)
	}

	return out, nil
}

// ParseEventLog parses an Ethereum log into a marketplace or collection event
func (c *marketplaceClient) ParseEventLog(ctx context.Context, vLog types.Log) (*domain.Event, error) {
	if len(vLog.Topics) == 0 {
		return nil, fmt.Errorf("log without topics in tx %s", vLog.TxHash.Hex())
	}

	event := &domain.Event{
		Chain:       c.chainID,
		Contract:    domain.NormalizeAddress(vLog.Address.Hex()),
		TxHash:      vLog.TxHash.Hex(),
		LogIndex:    uint64(vLog.Index),
		BlockNumber: vLog.BlockNumber,
	}

	switch vLog.Topics[0] {
	case listedEventSignature:
		if err := expectTopics(vLog, "NFTListed", 4); err != nil {
			return nil, err
		}
		price, err := wordAt(vLog.Data, 0)
		if err != nil {
			return nil, fmt.Errorf("invalid NFTListed event: %w", err)
		}
		event.Kind = domain.EventKindListed
		event.Listed = &domain.ListedPayload{
			Seller:     topicAddress(vLog.Topics[1]),
			NFTAddress: topicAddress(vLog.Topics[2]),
			TokenID:    topicUint(vLog.Topics[3]),
			Price:      price,
		}

	case boughtEventSignature:
		if err := expectTopics(vLog, "NFTBought", 4); err != nil {
			return nil, err
		}
		price, err := wordAt(vLog.Data, 0)
		if err != nil {
			return nil, fmt.Errorf("invalid NFTBought event: %w", err)
		}
		event.Kind = domain.EventKindBought
		event.Bought = &domain.BoughtPayload{
			Buyer:      topicAddress(vLog.Topics[1]),
			NFTAddress: topicAddress(vLog.Topics[2]),
			TokenID:    topicUint(vLog.Topics[3]),
			Price:      price,
		}

	case mintedEventSignature:
		if err := expectTopics(vLog, "NFTMinted", 3); err != nil {
			return nil, err
		}
		values, err := collectionABI.Events["NFTMinted"].Inputs.NonIndexed().Unpack(vLog.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid NFTMinted event: %w", err)
		}
		tokenURI, _ := values[0].(string)
		event.Kind = domain.EventKindMinted
		event.Minted = &domain.MintedPayload{
			To:       topicAddress(vLog.Topics[1]),
			TokenID:  topicUint(vLog.Topics[2]),
			TokenURI: tokenURI,
		}

	case transferEventSignature:
		if len(vLog.Topics) == 3 {
			// ERC20 Transfer - skip as we only index NFTs
			logger.DebugCtx(ctx, "Skipping ERC20 transfer event",
				zap.String("contract", vLog.Address.Hex()),
				zap.String("txHash", vLog.TxHash.Hex()))
			return nil, nil
		}
		if err := expectTopics(vLog, "Transfer", 4); err != nil {
			return nil, err
		}
		event.Kind = domain.EventKindTransferred
		event.Transferred = &domain.TransferredPayload{
			From:    topicAddress(vLog.Topics[1]),
			To:      topicAddress(vLog.Topics[2]),
			TokenID: topicUint(vLog.Topics[3]),
		}

	default:
		return nil, fmt.Errorf("unknown event signature: %s", vLog.Topics[0].Hex())
	}

	ts, err := c.blockProvider.GetBlockTimestamp(ctx, vLog.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to get block timestamp: %w", err)
	}
	event.BlockTimestamp = uint64(ts.Unix()) //nolint:gosec,G115 // block timestamps are never negative

	return event, nil
}

func expectTopics(vLog types.Log, name string, n int) error {
	if len(vLog.Topics) != n {
		return fmt.Errorf("invalid %s event: expected %d topics, got %d", name, n, len(vLog.Topics))
	}
	return nil
}

func topicAddress(topic common.Hash) string {
	return domain.NormalizeAddress(common.BytesToAddress(topic.Bytes()).Hex())
}

func topicUint(topic common.Hash) *big.Int {
	return new(big.Int).SetBytes(topic.Bytes())
}

// wordAt reads the i-th 32 byte word of log data as an unsigned integer
func wordAt(data []byte, i int) (*big.Int, error) {
	end := (i + 1) * 32
	if len(data) < end {
		return nil, fmt.Errorf("insufficient data: %d bytes", len(data))
	}
	return new(big.Int).SetBytes(data[i*32 : end]), nil
}

// Close closes the connection
func (c *marketplaceClient) Close() {
	c.client.Close()
}
