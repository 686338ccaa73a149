package persistence

import (
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// PebbleCache keeps the local cache in a pebble database directory. Every
// write is synced.
type PebbleCache struct {
	db *pebble.DB
}

func OpenPebbleCache(dir string) (*PebbleCache, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrapf(err, "could not create cache dir %s", dir)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open cache at %s", dir)
	}
	return &PebbleCache{db: db}, nil
}

func (c *PebbleCache) Get(key string) (string, error) {
	v, closer, err := c.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", errors.Wrapf(ErrNotFound, "key %s", key)
		}
		return "", errors.Wrapf(err, "could not read %s", key)
	}
	defer closer.Close()
	// v is only valid until closer is closed
	return string(v), nil
}

func (c *PebbleCache) Set(key string, value string) error {
	if err := c.db.Set([]byte(key), []byte(value), pebble.Sync); err != nil {
		return errors.Wrapf(err, "could not write %s", key)
	}
	return nil
}

func (c *PebbleCache) Delete(key string) error {
	if err := c.db.Delete([]byte(key), pebble.Sync); err != nil {
		return errors.Wrapf(err, "could not delete %s", key)
	}
	return nil
}

// Keys lists every key starting with prefix.
func (c *PebbleCache) Keys(prefix string) ([]string, error) {
	it, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: prefixUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not iterate cache")
	}
	defer it.Close()

	var ret []string
	for ok := it.First(); ok; ok = it.Next() {
		ret = append(ret, string(it.Key()))
	}
	return ret, it.Error()
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (c *PebbleCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

var _ Cache = (*PebbleCache)(nil)
