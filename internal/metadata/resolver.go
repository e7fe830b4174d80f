package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
)

var (
	// ErrNoTokenURI is returned when neither the event nor the contract provides a token URI
	ErrNoTokenURI = errors.New("no token URI")
	// ErrRemoteDisabled is returned for remote URIs when remote fetching is off
	ErrRemoteDisabled = errors.New("remote metadata fetching disabled")
	// ErrUnsupportedScheme is returned for URIs that cannot be resolved
	ErrUnsupportedScheme = errors.New("unsupported URI scheme")
)

// ContractReader reads token and collection information from chain
//
//go:generate mockgen -source=resolver.go -destination=../mocks/metadata_resolver.go -package=mocks -mock_names=ContractReader=MockContractReader,Resolver=MockMetadataResolver
type ContractReader interface {
	TokenURI(ctx context.Context, contract string, tokenID *big.Int) (string, error)
	Name(ctx context.Context, contract string) (string, error)
	Symbol(ctx context.Context, contract string) (string, error)
}

// Resolver resolves token metadata. Resolution never fails outright: any
// failure is reported in Result.Err alongside placeholder metadata.
type Resolver interface {
	Resolve(ctx context.Context, contract string, tokenID *big.Int, tokenURI string) Result
}

// Config controls remote resolution
type Config struct {
	FetchRemote     bool
	IPFSGateways    []string
	ArweaveGateways []string
}

type resolver struct {
	reader     ContractReader
	httpClient adapter.HTTPClient
	base64     adapter.Base64
	config     Config
}

// NewResolver creates a resolver. reader may be nil, in which case events
// without a token URI resolve to placeholders.
func NewResolver(reader ContractReader, httpClient adapter.HTTPClient, base64 adapter.Base64, cfg Config) Resolver {
	if len(cfg.IPFSGateways) == 0 {
		cfg.IPFSGateways = []string{domain.DEFAULT_IPFS_GATEWAY}
	}
	if len(cfg.ArweaveGateways) == 0 {
		cfg.ArweaveGateways = []string{domain.DEFAULT_ARWEAVE_GATEWAY}
	}

	return &resolver{
		reader:     reader,
		httpClient: httpClient,
		base64:     base64,
		config:     cfg,
	}
}

func (r *resolver) Resolve(ctx context.Context, contract string, tokenID *big.Int, tokenURI string) Result {
	uri := strings.TrimSpace(domain.SanitizeText(tokenURI))
	if uri == "" && r.reader != nil {
		fromChain, err := r.reader.TokenURI(ctx, contract, tokenID)
		if err != nil {
			return failed(tokenID, "", fmt.Errorf("failed to read token URI: %w", err))
		}
		uri = strings.TrimSpace(domain.SanitizeText(fromChain))
	}
	if uri == "" {
		return failed(tokenID, "", ErrNoTokenURI)
	}

	// ERC1155 id substitution only applies to remote URIs, never inline documents
	if !strings.HasPrefix(uri, "data:") {
		uri = strings.ReplaceAll(uri, "{id}", fmt.Sprintf("%064x", tokenID))
	}

	data, err := r.fetch(ctx, uri)
	if err != nil {
		return failed(tokenID, uri, err)
	}

	md, err := Parse(data, tokenID)
	if err != nil {
		return failed(tokenID, uri, err)
	}

	return Result{Metadata: md, URI: uri}
}

func failed(tokenID *big.Int, uri string, err error) Result {
	return Result{Metadata: Placeholder(tokenID), URI: uri, Err: err}
}

func (r *resolver) fetch(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		return decodeDataURI(uri, r.base64)
	case !r.config.FetchRemote:
		return nil, ErrRemoteDisabled
	case strings.HasPrefix(uri, "ipfs://"):
		path := strings.TrimPrefix(strings.TrimPrefix(uri, "ipfs://"), "ipfs/")
		return r.race(ctx, gatewayURLs(r.config.IPFSGateways, "ipfs/"+path))
	case strings.HasPrefix(uri, "ar://"):
		return r.race(ctx, gatewayURLs(r.config.ArweaveGateways, strings.TrimPrefix(uri, "ar://")))
	case strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://"):
		// Public IPFS gateway URLs are raced across our own gateways
		if _, path, ok := strings.Cut(uri, "/ipfs/"); ok {
			return r.race(ctx, gatewayURLs(r.config.IPFSGateways, "ipfs/"+path))
		}
		return r.get(ctx, uri)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, uri)
	}
}

func (r *resolver) get(ctx context.Context, url string) ([]byte, error) {
	var raw json.RawMessage
	if err := r.httpClient.Get(ctx, url, &raw); err != nil {
		logger.DebugCtx(ctx, "Metadata fetch failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}
	return raw, nil
}

func gatewayURLs(gateways []string, path string) []string {
	urls := make([]string, 0, len(gateways))
	for _, gw := range gateways {
		urls = append(urls, strings.TrimRight(gw, "/")+"/"+path)
	}
	return urls
}
