package utxo

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"

	"github.com/bitcoincandy/candyd/errors"
	"github.com/bitcoincandy/candyd/model"
	"github.com/bitcoincandy/candyd/ulogger"
)

var (
	coinKeyPrefix = []byte{'C'}
	bestBlockKey  = []byte{'B'}
)

// Store is the persistent bottom of the coins view stack, backed by leveldb.
type Store struct {
	logger ulogger.Logger
	db     *leveldb.DB
}

func NewStore(logger ulogger.Logger, path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.NewStorageError("opening utxo database at %s", path, err)
	}

	return &Store{
		logger: logger.New("utxodb"),
		db:     db,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func coinKey(op model.OutPoint) []byte {
	key := make([]byte, 0, 1+32+4)
	key = append(key, coinKeyPrefix...)
	key = append(key, op.Hash[:]...)

	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], op.Index)

	return append(key, idx[:]...)
}

func (s *Store) GetCoin(op model.OutPoint) (*Coin, error) {
	raw, err := s.db.Get(coinKey(op), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorageError("reading coin %s", op, err)
	}

	coin := &Coin{}
	if err := coin.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.NewStorageError("decoding coin %s", op, err)
	}

	return coin, nil
}

func (s *Store) HaveCoin(op model.OutPoint) (bool, error) {
	ok, err := s.db.Has(coinKey(op), nil)
	if err != nil {
		return false, errors.NewStorageError("checking coin %s", op, err)
	}

	return ok, nil
}

func (s *Store) BestBlock() (chainhash.Hash, error) {
	raw, err := s.db.Get(bestBlockKey, nil)
	if err == leveldb.ErrNotFound {
		return chainhash.Hash{}, nil
	}
	if err != nil {
		return chainhash.Hash{}, errors.NewStorageError("reading best block", err)
	}

	var hash chainhash.Hash
	copy(hash[:], raw)

	return hash, nil
}

func (s *Store) BatchWrite(entries map[model.OutPoint]*CacheEntry, best chainhash.Hash) error {
	batch := new(leveldb.Batch)

	count := 0
	for op, entry := range entries {
		if entry.Flags&EntryDirty == 0 {
			continue
		}

		if entry.Coin.IsSpent() {
			batch.Delete(coinKey(op))
		} else {
			var buf bytes.Buffer
			if err := entry.Coin.Serialize(&buf); err != nil {
				return errors.NewStorageError("encoding coin %s", op, err)
			}
			batch.Put(coinKey(op), buf.Bytes())
		}

		count++
	}

	batch.Put(bestBlockKey, best[:])

	if err := s.db.Write(batch, nil); err != nil {
		return errors.NewStorageError("writing %d coin updates", count, err)
	}

	s.logger.Debugf("flushed %d coin updates, best block %s", count, best)

	return nil
}
