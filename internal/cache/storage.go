package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

// backend 是各驱动需要实现的最小字节级操作集合，匹配、排序与身份计算由 storage 统一处理。
type backend interface {
	caches(ctx context.Context) ([]cacheInfo, error)
	create(ctx context.Context, name string, seq int64) error
	drop(ctx context.Context, name string) (bool, error)
	get(ctx context.Context, cache, key string) (*Record, error)
	// put 原子写入一批条目，缓存不存在时以 seq 一并创建其标记。
	put(ctx context.Context, cache string, seq int64, recs []*Record) error
	remove(ctx context.Context, cache, key string) (bool, error)
	records(ctx context.Context, cache string) ([]*Record, error)
	close() error
}

type storage struct {
	backend backend
	keyer   keyer
	now     func() time.Time

	mu      sync.Mutex
	lastSeq int64
}

func newStorage(b backend, opts Options) *storage {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &storage{
		backend: b,
		keyer:   newKeyer(opts.VaryHeaders),
		now:     now,
	}
}

// nextSeq 返回单调递增的序号，跨进程重启时依赖纳秒时间保持顺序。
func (s *storage) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := time.Now().UnixNano()
	if seq <= s.lastSeq {
		seq = s.lastSeq + 1
	}
	s.lastSeq = seq
	return seq
}

func (s *storage) Open(ctx context.Context, name string) (Cache, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &namedCache{storage: s, name: name}, nil
}

func (s *storage) Has(ctx context.Context, name string) (bool, error) {
	infos, err := s.backend.caches(ctx)
	if err != nil {
		return false, err
	}
	for _, info := range infos {
		if info.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *storage) Delete(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, ErrInvalidName
	}
	return s.backend.drop(ctx, name)
}

func (s *storage) Keys(ctx context.Context) ([]string, error) {
	infos, err := s.backend.caches(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(infos, func(i, j int) bool {
		if infos[i].Seq == infos[j].Seq {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Seq < infos[j].Seq
	})
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

func (s *storage) Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		resp, err := s.match(ctx, name, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *storage) Close() error {
	return s.backend.close()
}

func (s *storage) match(ctx context.Context, name string, req *fetch.Request) (*fetch.Response, error) {
	if req == nil || req.URL == nil || req.Method != http.MethodGet {
		return nil, ErrNotFound
	}
	rec, err := s.backend.get(ctx, name, s.keyer.key(req))
	if err != nil {
		return nil, err
	}
	if !varyMatches(rec, req) {
		return nil, ErrNotFound
	}
	return rec.Response(), nil
}

func (s *storage) buildRecord(req *fetch.Request, resp *fetch.Response) (*Record, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("cache: request required")
	}
	if req.Method != http.MethodGet {
		return nil, ErrUnsupportedMethod
	}
	if resp == nil {
		return nil, errors.New("cache: response required")
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, err
	}
	header := resp.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	// 缓存命中会回放给任意客户端，不能携带某个客户端的会话。
	header.Del("Set-Cookie")
	header.Del("Set-Cookie2")
	return &Record{
		Key:      s.keyer.key(req),
		URL:      requestURL(req),
		Status:   resp.Status,
		Header:   header,
		Body:     body,
		Vary:     varySnapshot(req, resp.Header),
		StoredAt: s.now().UTC(),
		Seq:      s.nextSeq(),
	}, nil
}

// namedCache 是 Storage 返回的缓存句柄，本身不持有状态。
type namedCache struct {
	storage *storage
	name    string
}

func (c *namedCache) Name() string { return c.name }

func (c *namedCache) Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	return c.storage.match(ctx, c.name, req)
}

func (c *namedCache) Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) error {
	return c.PutAll(ctx, []Item{{Request: req, Response: resp}})
}

func (c *namedCache) PutAll(ctx context.Context, items []Item) error {
	recs := make([]*Record, 0, len(items))
	for i, item := range items {
		rec, err := c.storage.buildRecord(item.Request, item.Response)
		if err != nil {
			for _, rest := range items[i+1:] {
				if rest.Response != nil {
					_ = rest.Response.Close()
				}
			}
			return fmt.Errorf("cache %s: %w", c.name, err)
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		if err := c.storage.backend.create(ctx, c.name, c.storage.nextSeq()); err != nil {
			return fmt.Errorf("create cache %s: %w", c.name, err)
		}
		return nil
	}
	// put 与缓存标记在同一次提交中写入，避免并发 Delete 后留下无标记的孤儿条目。
	if err := c.storage.backend.put(ctx, c.name, c.storage.nextSeq(), recs); err != nil {
		return fmt.Errorf("write cache %s: %w", c.name, err)
	}
	return nil
}

func (c *namedCache) Delete(ctx context.Context, req *fetch.Request) (bool, error) {
	if req == nil || req.URL == nil || req.Method != http.MethodGet {
		return false, nil
	}
	return c.storage.backend.remove(ctx, c.name, c.storage.keyer.key(req))
}

func (c *namedCache) Keys(ctx context.Context) ([]string, error) {
	recs, err := c.storage.backend.records(ctx, c.name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	urls := make([]string, len(recs))
	for i, rec := range recs {
		urls[i] = rec.URL
	}
	return urls, nil
}
