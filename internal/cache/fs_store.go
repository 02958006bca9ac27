package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	fsMarkerFile  = ".cache"
	fsEntrySuffix = ".entry"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。磁盘布局：
//
//	<basePath>/<base64url(cacheName)>/.cache        # 创建序号
//	<basePath>/<base64url(cacheName)>/<key>.entry   # gob 编码的 Record
func NewStore(basePath string, opts Options) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return newStorage(&fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		rename:   os.Rename,
	}, opts), nil
}

// fileStore 通过 entryLock 避免同一缓存并发写入，同时复用 basePath。
type fileStore struct {
	basePath string
	rename   func(oldpath, newpath string) error

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fileStore) caches(ctx context.Context) ([]cacheInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	out := make([]cacheInfo, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		name, err := base64.RawURLEncoding.DecodeString(d.Name())
		if err != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, d.Name(), fsMarkerFile))
		if err != nil {
			continue
		}
		seq, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, cacheInfo{Name: string(name), Seq: seq})
	}
	return out, nil
}

func (s *fileStore) create(ctx context.Context, name string, seq int64) error {
	unlock := s.lockCache(name)
	defer unlock()
	return s.ensureMarker(name, seq)
}

// ensureMarker 在缓存目录缺少标记时写入创建序号，调用方须持有缓存锁。
func (s *fileStore) ensureMarker(name string, seq int64) error {
	dir := s.cacheDir(name)
	marker := filepath.Join(dir, fsMarkerFile)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeFileAtomic(dir, marker, []byte(strconv.FormatInt(seq, 10)))
}

func (s *fileStore) drop(ctx context.Context, name string) (bool, error) {
	unlock := s.lockCache(name)
	defer unlock()

	dir := s.cacheDir(name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	// 先改名再删除，避免删除中途被读到半个缓存。
	trash, err := os.MkdirTemp(s.basePath, ".trash-*")
	if err != nil {
		return false, err
	}
	if err := os.Rename(dir, filepath.Join(trash, "cache")); err != nil {
		os.RemoveAll(trash)
		return false, err
	}
	return true, os.RemoveAll(trash)
}

func (s *fileStore) get(ctx context.Context, cache, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.entryPath(cache, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeRecord(raw)
}

func (s *fileStore) put(ctx context.Context, cache string, seq int64, recs []*Record) error {
	unlock := s.lockCache(cache)
	defer unlock()

	dir := s.cacheDir(cache)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	// 第一阶段：全部写入临时文件；任何失败都清理临时文件且不影响已有条目。
	temps := make([]string, 0, len(recs))
	cleanup := func() {
		for _, name := range temps {
			os.Remove(name)
		}
	}
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		payload, err := encodeRecord(rec)
		if err != nil {
			cleanup()
			return err
		}
		name, err := writeTemp(dir, payload)
		if err != nil {
			cleanup()
			return err
		}
		temps = append(temps, name)
	}

	// drop 持有同一把锁，标记与条目因此总是一起出现。
	if err := s.ensureMarker(cache, seq); err != nil {
		cleanup()
		return err
	}

	// 第二阶段：逐个 rename 提交。被覆盖的旧条目先硬链接到备份，失败时据此恢复。
	type commit struct {
		target string
		backup string
	}
	done := make([]commit, 0, len(recs))
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			c := done[i]
			if c.backup == "" {
				os.Remove(c.target)
				continue
			}
			os.Rename(c.backup, c.target)
		}
	}
	for i, rec := range recs {
		target := s.entryPath(cache, rec.Key)
		backup, err := backupEntry(target, i)
		if err == nil {
			err = s.rename(temps[i], target)
			if err != nil && backup != "" {
				os.Remove(backup)
			}
		}
		if err != nil {
			rollback()
			for _, name := range temps[i:] {
				os.Remove(name)
			}
			return err
		}
		done = append(done, commit{target: target, backup: backup})
	}
	for _, c := range done {
		if c.backup != "" {
			os.Remove(c.backup)
		}
	}
	return nil
}

// backupEntry 为已存在的条目建立硬链接备份，目标不存在时返回空串。
// 硬链接保证提交期间读者始终能读到旧条目或新条目。
func backupEntry(target string, i int) (string, error) {
	if _, err := os.Lstat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	backup := target + ".bak" + strconv.Itoa(i)
	os.Remove(backup)
	if err := os.Link(target, backup); err != nil {
		return "", err
	}
	return backup, nil
}

func (s *fileStore) remove(ctx context.Context, cache, key string) (bool, error) {
	unlock := s.lockCache(cache)
	defer unlock()

	if err := os.Remove(s.entryPath(cache, key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) records(ctx context.Context, cache string) ([]*Record, error) {
	entries, err := os.ReadDir(s.cacheDir(cache))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fsEntrySuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.cacheDir(cache), e.Name()))
		if err != nil {
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *fileStore) close() error { return nil }

func (s *fileStore) lockCache(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) cacheDir(name string) string {
	return filepath.Join(s.basePath, base64.RawURLEncoding.EncodeToString([]byte(name)))
}

func (s *fileStore) entryPath(cache, key string) string {
	return filepath.Join(s.cacheDir(cache), key+fsEntrySuffix)
}

func writeTemp(dir string, payload []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	_, err = f.Write(payload)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func writeFileAtomic(dir, target string, payload []byte) error {
	name, err := writeTemp(dir, payload)
	if err != nil {
		return err
	}
	if err := os.Rename(name, target); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
