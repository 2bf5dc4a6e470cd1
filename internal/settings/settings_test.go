package settings

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/market-relister/internal/config"
	"github.com/market-relister/internal/storage"
	"github.com/market-relister/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInputs(t *testing.T, dir string) config.InputsConfig {
	t.Helper()
	files := map[string]string{
		"servers.json":  `["10.0.0.1", "10.0.0.2"]`,
		"tokens.json":   `["tok-1", "tok-2", "tok-3"]`,
		"market.json":   `{"hostname": "en.example.org"}`,
		"accounts.json": `[{"name":"alice","udid":"u1","token":"t1","role":"buyer"},{"name":"bob","udid":"u2","token":"t2","role":"seller"},{"name":"eve","udid":"u3","token":"t3","role":"admin"}]`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	return config.InputsConfig{
		ServersFile:  filepath.Join(dir, "servers.json"),
		TokensFile:   filepath.Join(dir, "tokens.json"),
		ConfigFile:   filepath.Join(dir, "market.json"),
		AccountsFile: filepath.Join(dir, "accounts.json"),
	}
}

func TestSeedAndLoad(t *testing.T) {
	dir := t.TempDir()
	inputs := writeInputs(t, dir)
	store, err := storage.NewFileStorage(filepath.Join(dir, "db.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Seed(ctx, store, inputs))

	in, err := LoadInputs(ctx, store)
	require.NoError(t, err)
	require.NoError(t, in.Validate())

	assert.Equal(t, "en.example.org", in.Hostname)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, in.Servers)
	assert.Equal(t, []string{"tok-1", "tok-2", "tok-3"}, in.Tokens)
	assert.Equal(t, []types.Credential{{Name: "alice", UDID: "u1", Token: "t1", Role: types.RoleBuyer}}, in.Buyers)
	assert.Equal(t, []types.Credential{{Name: "bob", UDID: "u2", Token: "t2", Role: types.RoleSeller}}, in.Sellers)
}

func TestSeedSkipsPopulatedCollections(t *testing.T) {
	dir := t.TempDir()
	inputs := writeInputs(t, dir)
	store, err := storage.NewFileStorage(filepath.Join(dir, "db.json"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, Seed(ctx, store, inputs))
	require.NoError(t, Seed(ctx, store, inputs))

	servers, err := store.Read(ctx, storage.CollectionServers, nil)
	require.NoError(t, err)
	assert.Len(t, servers, 2)
}

func TestSeedMissingFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileStorage(filepath.Join(dir, "db.json"))
	require.NoError(t, err)

	err = Seed(context.Background(), store, config.InputsConfig{
		ServersFile:  filepath.Join(dir, "none-1.json"),
		TokensFile:   filepath.Join(dir, "none-2.json"),
		ConfigFile:   filepath.Join(dir, "none-3.json"),
		AccountsFile: filepath.Join(dir, "none-4.json"),
	})
	require.NoError(t, err)

	in, err := LoadInputs(context.Background(), store)
	require.NoError(t, err)
	assert.Error(t, in.Validate())
}

func TestSeedMalformedFile(t *testing.T) {
	dir := t.TempDir()
	inputs := writeInputs(t, dir)
	require.NoError(t, os.WriteFile(inputs.TokensFile, []byte(`{"not": "a list"}`), 0644))

	store, err := storage.NewFileStorage(filepath.Join(dir, "db.json"))
	require.NoError(t, err)

	err = Seed(context.Background(), store, inputs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed tokens")
}
