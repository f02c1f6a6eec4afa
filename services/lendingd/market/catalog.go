package market

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/storage"
)

var catalogKey = []byte("lendingd/catalog")

// AssetSpec describes a collateral asset together with the manual feed that
// prices it.
type AssetSpec struct {
	Address      common.Address
	Symbol       string
	Decimals     uint8
	FeedDecimals uint8
}

// Catalog persists the assets registered at runtime so they can be replayed
// on the next boot.
type Catalog struct {
	mu sync.Mutex
	db storage.Database
}

// NewCatalog returns a catalog backed by db.
func NewCatalog(db storage.Database) *Catalog {
	return &Catalog{db: db}
}

// List returns the catalog in insertion order.
func (c *Catalog) List() ([]AssetSpec, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list()
}

func (c *Catalog) list() ([]AssetSpec, error) {
	data, err := c.db.Get(catalogKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var specs []AssetSpec
	if err := rlp.DecodeBytes(data, &specs); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return specs, nil
}

// Append adds spec unless an entry for the same address already exists.
func (c *Catalog) Append(spec AssetSpec) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	specs, err := c.list()
	if err != nil {
		return err
	}
	for _, existing := range specs {
		if existing.Address == spec.Address {
			return nil
		}
	}
	return c.store(append(specs, spec))
}

// Remove drops the entry for asset, if any.
func (c *Catalog) Remove(asset common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	specs, err := c.list()
	if err != nil {
		return err
	}
	kept := specs[:0]
	for _, existing := range specs {
		if existing.Address != asset {
			kept = append(kept, existing)
		}
	}
	if len(kept) == len(specs) {
		return nil
	}
	return c.store(kept)
}

func (c *Catalog) store(specs []AssetSpec) error {
	data, err := rlp.EncodeToBytes(specs)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return c.db.Put(catalogKey, data)
}
