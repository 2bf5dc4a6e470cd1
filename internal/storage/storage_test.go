package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/market-relister/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	empty, err := s.Read(ctx, CollectionSold, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, rec := range []types.SoldRecord{
		{ItemID: 1, Template: 77, Name: "Red Cap", Price: 540},
		{ItemID: 2, Template: 78, Name: "Blue Scarf", Price: 1200},
		{ItemID: 3, Template: 77, Name: "Red Cap", Price: 555},
	} {
		doc, err := NewDocument(rec)
		require.NoError(t, err)
		require.NoError(t, s.Create(ctx, CollectionSold, doc))
	}

	all, err := s.Read(ctx, CollectionSold, Document{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	caps, err := s.Read(ctx, CollectionSold, Document{"template": uint32(77)})
	require.NoError(t, err)
	require.Len(t, caps, 2)

	var first types.SoldRecord
	require.NoError(t, caps[0].Decode(&first))
	assert.Equal(t, uint32(1), first.ItemID)
	assert.Equal(t, uint32(540), first.Price)

	one, err := s.Read(ctx, CollectionSold, Document{"id": 2})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "Blue Scarf", one[0]["name"])

	other, err := s.Read(ctx, CollectionTrades, nil)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relister.json")
	s, err := NewFileStorage(path)
	require.NoError(t, err)
	exerciseStore(t, s)

	reopened, err := NewFileStorage(path)
	require.NoError(t, err)
	docs, err := reopened.Read(context.Background(), CollectionSold, Document{"template": 77})
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStorageReadReturnsCopies(t *testing.T) {
	s, err := NewFileStorage(filepath.Join(t.TempDir(), "db.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, CollectionTrades, Document{"id": 1}))
	docs, err := s.Read(ctx, CollectionTrades, nil)
	require.NoError(t, err)
	docs[0]["id"] = 99

	again, err := s.Read(ctx, CollectionTrades, Document{"id": 1})
	require.NoError(t, err)
	assert.Len(t, again, 1)
}

func TestSQLiteStorage(t *testing.T) {
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "relister.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	exerciseStore(t, s)
}

func TestRedisStorage(t *testing.T) {
	addr := os.Getenv("RELISTER_TEST_REDIS")
	if addr == "" {
		t.Skip("RELISTER_TEST_REDIS not set")
	}
	s, err := NewRedisStorage(addr)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.client.Del(context.Background(), redisKeyPrefix+CollectionSold, redisKeyPrefix+CollectionTrades)
		s.Close()
	})
	exerciseStore(t, s)
}

func TestNewStorageUnknownType(t *testing.T) {
	_, err := NewStorage("mongo", "x")
	assert.Error(t, err)
}

func TestDocumentMatches(t *testing.T) {
	doc := Document{"id": float64(7), "name": "cap", "when": time.Unix(0, 0).UTC().Format(time.RFC3339)}

	assert.True(t, doc.Matches(nil))
	assert.True(t, doc.Matches(Document{"id": uint32(7)}))
	assert.True(t, doc.Matches(Document{"id": 7, "name": "cap"}))
	assert.False(t, doc.Matches(Document{"id": "7"}))
	assert.False(t, doc.Matches(Document{"missing": 1}))
	assert.False(t, doc.Matches(Document{"name": "hat"}))
}
