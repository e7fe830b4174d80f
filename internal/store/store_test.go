package store

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-marketplace-indexer/internal/adapter"
	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
)

// =============================================================================
// Test Data Builders
// =============================================================================

func buildTestUser(id string) *schema.User {
	return &schema.User{
		ID:                  id,
		TotalListings:       1,
		TotalVolumeAsBuyer:  big.NewInt(0),
		TotalVolumeAsSeller: big.NewInt(0),
		FirstActivityAt:     1000,
		LastActivityAt:      1000,
	}
}

func buildTestBucket(kind schema.Kind, id string) *schema.BucketData {
	return &schema.BucketData{
		ID:          id,
		Kind:        kind,
		Scope:       "marketplace",
		BucketStart: 86400,
		Volume:      new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil),
		Sales:       2,
		Open:        big.NewInt(1),
		High:        big.NewInt(2),
		Low:         big.NewInt(1),
		Close:       big.NewInt(2),
	}
}

// RunStoreTests runs the entity store contract against an implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	t.Run("Load_Missing", func(t *testing.T) {
		st := initDB(t)
		defer cleanupDB(t)

		data, ok, err := st.Load(context.Background(), schema.KindUser, "0xmissing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, data)
	})

	t.Run("Save_ThenLoad", func(t *testing.T) {
		st := initDB(t)
		defer cleanupDB(t)
		ctx := context.Background()

		err := st.Save(ctx, Record{Kind: schema.KindUser, ID: "0xabc", Data: []byte(`{"id":"0xabc","total_listings":3}`)})
		require.NoError(t, err)

		data, ok, err := st.Load(ctx, schema.KindUser, "0xabc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"id":"0xabc","total_listings":3}`, string(data))
	})

	t.Run("Save_Overwrites", func(t *testing.T) {
		st := initDB(t)
		defer cleanupDB(t)
		ctx := context.Background()

		require.NoError(t, st.Save(ctx, Record{Kind: schema.KindUser, ID: "0xabc", Data: []byte(`{"v":1}`)}))
		require.NoError(t, st.Save(ctx, Record{Kind: schema.KindUser, ID: "0xabc", Data: []byte(`{"v":2}`)}))

		data, ok, err := st.Load(ctx, schema.KindUser, "0xabc")
		require.NoError(t, err)
		require.True(t, ok)
		assert.JSONEq(t, `{"v":2}`, string(data))
	})

	t.Run("Kinds_AreSeparateNamespaces", func(t *testing.T) {
		st := initDB(t)
		defer cleanupDB(t)
		ctx := context.Background()

		require.NoError(t, st.Save(ctx, Record{Kind: schema.KindUser, ID: "same", Data: []byte(`{"kind":"user"}`)}))

		_, ok, err := st.Load(ctx, schema.KindCollection, "same")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SaveBatch_WritesAll", func(t *testing.T) {
		st := initDB(t)
		defer cleanupDB(t)
		ctx := context.Background()

		err := st.SaveBatch(ctx, []Record{
			{Kind: schema.KindListing, ID: "0x1-0", Data: []byte(`{"id":"0x1-0"}`)},
			{Kind: schema.KindListing, ID: "0x1-1", Data: []byte(`{"id":"0x1-1"}`)},
			{Kind: schema.KindMarketplaceStat, ID: "marketplace-stats", Data: []byte(`{"id":"marketplace-stats"}`)},
		})
		require.NoError(t, err)

		for _, id := range []string{"0x1-0", "0x1-1"} {
			_, ok, err := st.Load(ctx, schema.KindListing, id)
			require.NoError(t, err)
			assert.True(t, ok, id)
		}
	})

	t.Run("SaveBatch_Empty", func(t *testing.T) {
		st := initDB(t)
		defer cleanupDB(t)

		assert.NoError(t, st.SaveBatch(context.Background(), nil))
	})

	t.Run("Session_RoundTrip", func(t *testing.T) {
		st := initDB(t)
		defer cleanupDB(t)
		ctx := context.Background()

		s := NewSession(st, adapter.NewJSON())
		s.Put(buildTestBucket(schema.KindMarketplaceDayData, "marketplace-86400"))
		require.NoError(t, s.Commit(ctx))

		s2 := NewSession(st, adapter.NewJSON())
		b, err := Get[schema.BucketData](ctx, s2, schema.KindMarketplaceDayData, "marketplace-86400")
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, schema.KindMarketplaceDayData, b.Kind)
		assert.Equal(t, "1000000000000000000000000000000", b.Volume.String())
		assert.Equal(t, uint64(2), b.Sales)
	})
}

// =============================================================================
// Session behaviour (memory-backed)
// =============================================================================

func TestSession_GetMissing(t *testing.T) {
	s := NewSession(NewMemoryStore(), adapter.NewJSON())

	u, err := Get[schema.User](context.Background(), s, schema.KindUser, "0xnobody")
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSession_GetReturnsSamePointer(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	s := NewSession(st, adapter.NewJSON())
	s.Put(buildTestUser("0xabc"))
	require.NoError(t, s.Commit(ctx))

	s = NewSession(st, adapter.NewJSON())
	a, err := Get[schema.User](ctx, s, schema.KindUser, "0xabc")
	require.NoError(t, err)
	b, err := Get[schema.User](ctx, s, schema.KindUser, "0xabc")
	require.NoError(t, err)

	assert.Same(t, a, b)
	a.TotalListings++
	assert.Equal(t, uint64(2), b.TotalListings)
}

func TestSession_PutVisibleBeforeCommit(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := NewSession(st, adapter.NewJSON())

	user := buildTestUser("0xabc")
	s.Put(user)

	got, err := Get[schema.User](ctx, s, schema.KindUser, "0xabc")
	require.NoError(t, err)
	assert.Same(t, user, got)

	exists, err := s.Exists(ctx, schema.KindUser, "0xabc")
	require.NoError(t, err)
	assert.True(t, exists)

	// Nothing reaches the store until commit
	assert.Equal(t, 0, st.Len())
}

func TestSession_DroppedSessionWritesNothing(t *testing.T) {
	st := NewMemoryStore()
	s := NewSession(st, adapter.NewJSON())
	s.Put(buildTestUser("0xabc"))
	s.Put(buildTestUser("0xdef"))

	assert.Equal(t, 2, s.Pending())
	assert.Equal(t, 0, st.Len())
}

func TestSession_PutTwiceKeepsLatest(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := NewSession(st, adapter.NewJSON())

	s.Put(&schema.NFTAttribute{ID: "n-color", TraitType: "color", Value: "red"})
	s.Put(&schema.NFTAttribute{ID: "n-color", TraitType: "color", Value: "blue"})
	assert.Equal(t, 1, s.Pending())
	require.NoError(t, s.Commit(ctx))

	s = NewSession(st, adapter.NewJSON())
	attr, err := Get[schema.NFTAttribute](ctx, s, schema.KindNFTAttribute, "n-color")
	require.NoError(t, err)
	require.NotNil(t, attr)
	assert.Equal(t, "blue", attr.Value)
}

func TestSession_WrongTypeForCachedKey(t *testing.T) {
	s := NewSession(NewMemoryStore(), adapter.NewJSON())
	s.Put(buildTestUser("0xabc"))

	_, err := Get[schema.Collection](context.Background(), s, schema.KindUser, "0xabc")
	assert.Error(t, err)
}

func TestSession_CommitEmpty(t *testing.T) {
	s := NewSession(NewMemoryStore(), adapter.NewJSON())
	assert.NoError(t, s.Commit(context.Background()))
}
