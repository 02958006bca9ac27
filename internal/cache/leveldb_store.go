package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB key layout:
//
//	c:<cache>            -> creation seq
//	e:<cache>\x00<key>   -> gob Record
const (
	ldbCachePrefix = "c:"
	ldbEntryPrefix = "e:"
)

// NewLevelDBStore 打开（或创建）path 下的 LevelDB，并包装为 Storage。
func NewLevelDBStore(path string, opts Options) (Storage, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return newStorage(&levelStore{db: db}, opts), nil
}

// levelStore 的 mu 串行化标记的检查与写入，使 put 与 drop 互不穿插。
type levelStore struct {
	db *leveldb.DB
	mu sync.Mutex
}

func (s *levelStore) caches(ctx context.Context) ([]cacheInfo, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(ldbCachePrefix)), nil)
	defer it.Release()

	var out []cacheInfo
	for it.Next() {
		seq, err := strconv.ParseInt(string(it.Value()), 10, 64)
		if err != nil {
			continue
		}
		name := string(it.Key()[len(ldbCachePrefix):])
		out = append(out, cacheInfo{Name: name, Seq: seq})
	}
	return out, it.Error()
}

func (s *levelStore) create(ctx context.Context, name string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	if err := s.markCache(batch, name, seq); err != nil {
		return err
	}
	if batch.Len() == 0 {
		return nil
	}
	return s.db.Write(batch, nil)
}

// markCache 在缓存标记缺失时把它加入 batch。
func (s *levelStore) markCache(batch *leveldb.Batch, name string, seq int64) error {
	key := []byte(ldbCachePrefix + name)
	ok, err := s.db.Has(key, nil)
	if err != nil || ok {
		return err
	}
	batch.Put(key, []byte(strconv.FormatInt(seq, 10)))
	return nil
}

func (s *levelStore) drop(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cacheKey := []byte(ldbCachePrefix + name)
	existed, err := s.db.Has(cacheKey, nil)
	if err != nil {
		return false, err
	}

	batch := new(leveldb.Batch)
	batch.Delete(cacheKey)
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		existed = true
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	return true, s.db.Write(batch, nil)
}

func (s *levelStore) get(ctx context.Context, cache, key string) (*Record, error) {
	raw, err := s.db.Get(entryKey(cache, key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRecord(raw)
}

func (s *levelStore) put(ctx context.Context, cache string, seq int64, recs []*Record) error {
	batch := new(leveldb.Batch)
	for _, rec := range recs {
		b, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		batch.Put(entryKey(cache, rec.Key), b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.markCache(batch, cache, seq); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

func (s *levelStore) remove(ctx context.Context, cache, key string) (bool, error) {
	k := entryKey(cache, key)
	ok, err := s.db.Has(k, nil)
	if err != nil || !ok {
		return false, err
	}
	return true, s.db.Delete(k, nil)
}

func (s *levelStore) records(ctx context.Context, cache string) ([]*Record, error) {
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(cache)), nil)
	defer it.Release()

	var out []*Record
	for it.Next() {
		rec, err := decodeRecord(it.Value())
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, it.Error()
}

func (s *levelStore) close() error {
	return s.db.Close()
}

func entryPrefix(cache string) []byte {
	return []byte(ldbEntryPrefix + cache + "\x00")
}

func entryKey(cache, key string) []byte {
	return append(entryPrefix(cache), key...)
}
