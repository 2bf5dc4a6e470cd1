// Package settings seeds the document store from the operator's JSON input
// files and loads the rotation inputs back out of it.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/market-relister/internal/config"
	"github.com/market-relister/internal/storage"
	"github.com/market-relister/internal/types"
	log "github.com/sirupsen/logrus"
)

// Inputs are the collections the scan loop rotates through
type Inputs struct {
	Hostname string
	Servers  []string
	Tokens   []string
	Buyers   []types.Credential
	Sellers  []types.Credential
}

// marketDocument is the global document of the config collection
type marketDocument struct {
	Hostname string `json:"hostname"`
}

// Seed imports every input file whose collection is still empty. Missing
// files are skipped so a store seeded once keeps working without them.
func Seed(ctx context.Context, store storage.Store, cfg config.InputsConfig) error {
	steps := []struct {
		collection string
		file       string
		docs       func([]byte) ([]storage.Document, error)
	}{
		{storage.CollectionServers, cfg.ServersFile, stringDocs("host")},
		{storage.CollectionTokens, cfg.TokensFile, stringDocs("token")},
		{storage.CollectionConfig, cfg.ConfigFile, configDocs},
		{storage.CollectionAccounts, cfg.AccountsFile, accountDocs},
	}

	for _, step := range steps {
		if err := migrate(ctx, store, step.collection, step.file, step.docs); err != nil {
			return fmt.Errorf("seed %s: %w", step.collection, err)
		}
	}
	return nil
}

func migrate(ctx context.Context, store storage.Store, collection, file string, decode func([]byte) ([]storage.Document, error)) error {
	start := time.Now()

	existing, err := store.Read(ctx, collection, nil)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Debugf("Collection %s already holds %d documents, skipping seed", collection, len(existing))
		return nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("Seed file %s not found, collection %s left empty", file, collection)
			return nil
		}
		return fmt.Errorf("read %s: %w", file, err)
	}

	docs, err := decode(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", file, err)
	}
	for _, doc := range docs {
		if err := store.Create(ctx, collection, doc); err != nil {
			return types.E(types.KindPersistence, "seed", err)
		}
	}

	log.Infof("Migration completed %s: %d documents in %v", collection, len(docs), time.Since(start))
	return nil
}

// stringDocs decodes a JSON array of strings into one document per entry
func stringDocs(key string) func([]byte) ([]storage.Document, error) {
	return func(data []byte) ([]storage.Document, error) {
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, err
		}
		docs := make([]storage.Document, 0, len(values))
		for _, v := range values {
			docs = append(docs, storage.Document{key: v})
		}
		return docs, nil
	}
}

func configDocs(data []byte) ([]storage.Document, error) {
	var doc marketDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return []storage.Document{{"hostname": doc.Hostname}}, nil
}

func accountDocs(data []byte) ([]storage.Document, error) {
	var accounts []types.Credential
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, err
	}
	docs := make([]storage.Document, 0, len(accounts))
	for _, a := range accounts {
		doc, err := storage.NewDocument(a)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// LoadInputs reads servers, tokens, accounts and the hostname back from the store.
// Accounts are split by role.
func LoadInputs(ctx context.Context, store storage.Store) (*Inputs, error) {
	in := &Inputs{}

	servers, err := readStrings(ctx, store, storage.CollectionServers, "host")
	if err != nil {
		return nil, err
	}
	in.Servers = servers

	tokens, err := readStrings(ctx, store, storage.CollectionTokens, "token")
	if err != nil {
		return nil, err
	}
	in.Tokens = tokens

	docs, err := store.Read(ctx, storage.CollectionConfig, nil)
	if err != nil {
		return nil, types.E(types.KindPersistence, "load config", err)
	}
	if len(docs) > 0 {
		var md marketDocument
		if err := docs[0].Decode(&md); err != nil {
			return nil, fmt.Errorf("decode config document: %w", err)
		}
		in.Hostname = md.Hostname
	}

	accounts, err := store.Read(ctx, storage.CollectionAccounts, nil)
	if err != nil {
		return nil, types.E(types.KindPersistence, "load accounts", err)
	}
	for _, doc := range accounts {
		var c types.Credential
		if err := doc.Decode(&c); err != nil {
			return nil, fmt.Errorf("decode account: %w", err)
		}
		switch c.Role {
		case types.RoleBuyer:
			in.Buyers = append(in.Buyers, c)
		case types.RoleSeller:
			in.Sellers = append(in.Sellers, c)
		default:
			log.Warnf("Account %s has unknown role %q, ignored", c.Name, c.Role)
		}
	}

	return in, nil
}

func readStrings(ctx context.Context, store storage.Store, collection, key string) ([]string, error) {
	docs, err := store.Read(ctx, collection, nil)
	if err != nil {
		return nil, types.E(types.KindPersistence, "load "+collection, err)
	}
	out := make([]string, 0, len(docs))
	for _, doc := range docs {
		if v, ok := doc[key].(string); ok && v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// Validate reports which rotation input is missing
func (in *Inputs) Validate() error {
	switch {
	case in.Hostname == "":
		return fmt.Errorf("no market hostname configured")
	case len(in.Servers) == 0:
		return fmt.Errorf("no servers available")
	case len(in.Tokens) == 0:
		return fmt.Errorf("no tokens available")
	case len(in.Buyers) == 0:
		return fmt.Errorf("no buyer accounts available")
	case len(in.Sellers) == 0:
		return fmt.Errorf("no seller accounts available")
	}
	return nil
}
