package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Driver 名称，与配置中的 StorageDriver 对应。
const (
	DriverFS      = "fs"
	DriverLevelDB = "leveldb"
	DriverRedis   = "redis"
)

// OpenOptions 汇总选择驱动所需的参数。
type OpenOptions struct {
	Driver   string
	Path     string
	RedisURL string
	Options
}

// Open 根据驱动名称构建 Storage，空驱动名回退到文件系统实现。
func Open(opts OpenOptions) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverFS:
		return NewStore(opts.Path, opts.Options)
	case DriverLevelDB:
		return NewLevelDBStore(filepath.Join(opts.Path, "leveldb"), opts.Options)
	case DriverRedis:
		return NewRedisStore(RedisConfig{URL: opts.RedisURL}, opts.Options)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", opts.Driver)
	}
}
