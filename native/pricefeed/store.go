package pricefeed

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/native/lending"
	"github.com/VinayVig7/Advance-Self-project-Lending-Protocol/storage"
)

var readingPrefix = []byte("pricefeed/reading/")

// Store persists the last reading pushed to each manual feed so that a
// restarted daemon reports the same price and timestamp.
type Store struct {
	db storage.Database
}

// NewStore binds the store to db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

type storedReading struct {
	Negative  bool
	Magnitude *big.Int
	UpdatedAt uint64
}

func readingKey(asset common.Address) []byte {
	return append(append([]byte{}, readingPrefix...), asset.Bytes()...)
}

// Save records reading for asset.
func (s *Store) Save(asset common.Address, reading lending.PriceReading) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("pricefeed: store not configured")
	}
	if reading.Price == nil {
		return fmt.Errorf("pricefeed: nil price")
	}
	record := storedReading{
		Negative:  reading.Price.Sign() < 0,
		Magnitude: new(big.Int).Abs(reading.Price),
		UpdatedAt: uint64(reading.UpdatedAt.Unix()),
	}
	data, err := rlp.EncodeToBytes(&record)
	if err != nil {
		return err
	}
	return s.db.Put(readingKey(asset), data)
}

// Load returns the stored reading for asset. ok is false when none exists.
func (s *Store) Load(asset common.Address) (reading lending.PriceReading, ok bool, err error) {
	if s == nil || s.db == nil {
		return lending.PriceReading{}, false, fmt.Errorf("pricefeed: store not configured")
	}
	data, err := s.db.Get(readingKey(asset))
	if errors.Is(err, storage.ErrNotFound) {
		return lending.PriceReading{}, false, nil
	}
	if err != nil {
		return lending.PriceReading{}, false, err
	}
	var record storedReading
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return lending.PriceReading{}, false, fmt.Errorf("decode reading %s: %w", asset.Hex(), err)
	}
	price := new(big.Int).Set(record.Magnitude)
	if record.Negative {
		price.Neg(price)
	}
	return lending.PriceReading{Price: price, UpdatedAt: time.Unix(int64(record.UpdatedAt), 0).UTC()}, true, nil
}

// Attach restores feed from the stored reading for asset, if any, and saves
// every subsequent update.
func (s *Store) Attach(asset common.Address, feed *ManualFeed) error {
	reading, ok, err := s.Load(asset)
	if err != nil {
		return err
	}
	if ok {
		feed.Set(reading.Price, reading.UpdatedAt)
	}
	feed.OnUpdate(func(r lending.PriceReading) {
		_ = s.Save(asset, r)
	})
	return nil
}
