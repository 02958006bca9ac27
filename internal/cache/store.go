package cache

import (
	"context"
	"errors"
	"time"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

// Storage 管理全部命名缓存，对应浏览器中的 CacheStorage。
type Storage interface {
	// Open 返回指定名称的缓存句柄。缓存在第一次写入时才真正落盘。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 判断缓存是否已存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个缓存及其条目，返回是否确实删除了内容。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按创建顺序列出缓存名称。
	Keys(ctx context.Context) ([]string, error)

	// Match 按创建顺序在所有缓存中查找请求，未命中返回 ErrNotFound。
	Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error)

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Cache 是单个命名缓存，条目按写入顺序排列，同一身份的重复写入会覆盖并移至末尾。
type Cache interface {
	Name() string

	// Match 精确匹配请求身份（URL + 配置的 Vary 头），未命中返回 ErrNotFound。
	Match(ctx context.Context, req *fetch.Request) (*fetch.Response, error)

	// Put 消费 resp 的正文并写入缓存；调用方若仍需返回该响应，必须先 Clone。
	Put(ctx context.Context, req *fetch.Request, resp *fetch.Response) error

	// PutAll 原子写入一批条目：要么全部可见，要么全部不可见。
	PutAll(ctx context.Context, items []Item) error

	// Delete 删除单个条目。
	Delete(ctx context.Context, req *fetch.Request) (bool, error)

	// Keys 按写入顺序返回条目 URL。
	Keys(ctx context.Context) ([]string, error)
}

// Item 是批量写入中的一个请求/响应对。
type Item struct {
	Request  *fetch.Request
	Response *fetch.Response
}

// Options 控制所有驱动共享的匹配行为。
type Options struct {
	// VaryHeaders 列出参与请求身份计算的请求头。
	VaryHeaders []string
	// Now 用于测试注入时钟，默认 time.Now。
	Now func() time.Time
}

var (
	// ErrNotFound 表示缓存或条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrUnsupportedMethod 表示只允许 GET 请求进入缓存。
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")
	// ErrInvalidName 表示缓存名称为空。
	ErrInvalidName = errors.New("cache name required")
)
