package entity

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
	"github.com/feral-file/ff-marketplace-indexer/internal/logger"
	"github.com/feral-file/ff-marketplace-indexer/internal/mocks"
	"github.com/feral-file/ff-marketplace-indexer/internal/store"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	nft   = "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newSession() (*store.Session, store.MemoryStore) {
	st := store.NewMemoryStore()
	return store.NewSession(st, adapter.NewJSON()), st
}

func TestMarketplaceStat_CreatesOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession()

	a, err := MarketplaceStat(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketplaceStatID, a.ID)
	assert.Equal(t, "0", a.TotalVolume.String())
	assert.Equal(t, "0", a.AveragePrice.String())

	b, err := MarketplaceStat(ctx, s)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Pending())
}

func TestUser_CreationCountsOnce(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession()

	u1, err := User(ctx, s, alice, 100)
	require.NoError(t, err)
	assert.Equal(t, alice, u1.ID)
	assert.Equal(t, uint64(100), u1.FirstActivityAt)
	assert.Equal(t, uint64(100), u1.LastActivityAt)

	again, err := User(ctx, s, alice, 200)
	require.NoError(t, err)
	assert.Same(t, u1, again)
	assert.Equal(t, uint64(100), again.FirstActivityAt)

	_, err = User(ctx, s, bob, 200)
	require.NoError(t, err)

	stat, err := MarketplaceStat(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stat.TotalUsers)
}

func TestUser_NormalizesAddress(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession()

	a, err := User(ctx, s, nft, 1)
	require.NoError(t, err)
	b, err := User(ctx, s, domain.NormalizeAddress(nft), 1)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "0x742d35cc6634c0532925a3b844bc9e7595f0beb0", a.ID)
}

func TestUser_PersistedAcrossSessions(t *testing.T) {
	ctx := context.Background()
	s, st := newSession()

	_, err := User(ctx, s, alice, 100)
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	s = store.NewSession(st, adapter.NewJSON())
	u, err := User(ctx, s, alice, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), u.FirstActivityAt)

	stat, err := MarketplaceStat(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stat.TotalUsers)
}

func TestCollection_CreatesZeroed(t *testing.T) {
	ctx := context.Background()
	s, _ := newSession()

	col, err := Collection(ctx, s, nft, 50)
	require.NoError(t, err)
	assert.Equal(t, domain.NormalizeAddress(nft), col.ID)
	assert.Equal(t, "0", col.FloorPrice.String())
	assert.Equal(t, "0", col.TotalVolume.String())
	assert.Equal(t, uint64(50), col.CreatedAt)

	_, err = Collection(ctx, s, nft, 60)
	require.NoError(t, err)

	stat, err := MarketplaceStat(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stat.TotalCollections)
}

func TestNFTCollection_ReadsNameAndSymbol(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reader := mocks.NewMockContractReader(ctrl)
	id := domain.NormalizeAddress(nft)
	reader.EXPECT().Name(gomock.Any(), id).Return("Punks", nil).Times(1)
	reader.EXPECT().Symbol(gomock.Any(), id).Return("", errors.New("execution reverted")).Times(1)

	s, _ := newSession()
	col, err := NFTCollection(ctx, s, nft, 10, reader)
	require.NoError(t, err)
	assert.Equal(t, "Punks", col.Name)
	assert.Empty(t, col.Symbol)
	assert.Equal(t, uint64(10), col.CreatedAt)

	// Existing collection is not read again
	again, err := NFTCollection(ctx, s, nft, 20, reader)
	require.NoError(t, err)
	assert.Same(t, col, again)
}

func TestNFTCollection_NilReader(t *testing.T) {
	s, _ := newSession()

	col, err := NFTCollection(context.Background(), s, nft, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, col.Name)
	assert.Equal(t, uint64(0), col.TotalSupply)
}

func TestTouch(t *testing.T) {
	s, _ := newSession()
	u := &schema.User{ID: alice, LastActivityAt: 100}

	Touch(s, u, 150)
	assert.Equal(t, uint64(150), u.LastActivityAt)

	Touch(s, u, 120)
	assert.Equal(t, uint64(150), u.LastActivityAt)
	assert.Equal(t, 1, s.Pending())
}

func TestStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	st := mocks.NewMockStore(ctrl)
	st.EXPECT().Load(gomock.Any(), schema.KindUser, alice).Return(nil, false, errors.New("connection reset"))

	s := store.NewSession(st, adapter.NewJSON())
	_, err := User(context.Background(), s, alice, 1)
	assert.Error(t, err)
	assert.Equal(t, 0, s.Pending())
}
