package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tinklegames/tinkle-proxy-service/logging"
)

// expiry header prepended to every stored value, unix nanos, 0 for none
const expiryHeaderSize = 8

// LevelDBCache is an implementation of Cache that keeps values on local disk.
type LevelDBCache struct {
	db *leveldb.DB
	*logging.ServiceLogger
}

var _ Cache = (*LevelDBCache)(nil)

// NewLevelDBCache opens (creating if needed) the leveldb database at path.
func NewLevelDBCache(path string, logger *logging.ServiceLogger) (*LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	return &LevelDBCache{
		db:            db,
		ServiceLogger: logger,
	}, nil
}

func encodeLevelDBValue(data []byte, expiration time.Duration) []byte {
	var expiry int64
	if expiration > 0 {
		expiry = time.Now().Add(expiration).UnixNano()
	}

	value := make([]byte, expiryHeaderSize+len(data))
	binary.BigEndian.PutUint64(value[:expiryHeaderSize], uint64(expiry))
	copy(value[expiryHeaderSize:], data)

	return value
}

// decodeLevelDBValue returns the payload and whether it is still live
func decodeLevelDBValue(value []byte, now time.Time) ([]byte, bool) {
	if len(value) < expiryHeaderSize {
		return nil, false
	}

	expiry := int64(binary.BigEndian.Uint64(value[:expiryHeaderSize]))
	if expiry != 0 && now.UnixNano() > expiry {
		return nil, false
	}

	return value[expiryHeaderSize:], true
}

// Set sets the value for the given key with the given expiration.
func (lc *LevelDBCache) Set(ctx context.Context, key string, data []byte, expiration time.Duration) error {
	lc.Logger.Trace().
		Str("key", key).
		Int("size", len(data)).
		Dur("expiration", expiration).
		Msg("setting value in leveldb")

	return lc.db.Put([]byte(key), encodeLevelDBValue(data, expiration), nil)
}

// Get gets the value for the given key, expired values are deleted lazily.
func (lc *LevelDBCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := lc.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		lc.Logger.Trace().
			Str("key", key).
			Msg("value not found in leveldb")
		return nil, ErrNotFound
	}
	if err != nil {
		lc.Logger.Error().
			Str("key", key).
			Err(err).
			Msg("error during getting value from leveldb")
		return nil, err
	}

	data, live := decodeLevelDBValue(value, time.Now())
	if !live {
		_ = lc.db.Delete([]byte(key), nil)
		return nil, ErrNotFound
	}

	return data, nil
}

// Delete deletes the value for the given key.
func (lc *LevelDBCache) Delete(ctx context.Context, key string) error {
	lc.Logger.Trace().
		Str("key", key).
		Msg("deleting value from leveldb")

	return lc.db.Delete([]byte(key), nil)
}

// Keys iterates the key range starting with prefix.
func (lc *LevelDBCache) Keys(ctx context.Context, prefix string) ([]string, error) {
	it := lc.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	now := time.Now()
	var keys []string
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, live := decodeLevelDBValue(it.Value(), now); !live {
			continue
		}
		keys = append(keys, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (lc *LevelDBCache) Healthcheck(ctx context.Context) error {
	if _, err := lc.db.GetProperty("leveldb.stats"); err != nil {
		return fmt.Errorf("error reading leveldb stats: %w", err)
	}
	return nil
}

// Close flushes and closes the database
func (lc *LevelDBCache) Close() error {
	return lc.db.Close()
}
