package worker

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/genui-chat/offline-worker/internal/config"
	"github.com/genui-chat/offline-worker/internal/fetch"
)

// Config 描述一代 worker 的全部参数，显式传给各个阶段，不依赖包级变量。
type Config struct {
	// Scope 是 worker 自身的源，只有同源请求会被拦截。
	Scope *url.URL
	// Version 是部署代际标识，缓存名称以它为后缀。
	Version string
	// PrecacheName 与 RuntimeName 是带版本后缀的完整缓存名称。
	PrecacheName string
	RuntimeName  string
	// Manifest 是 install 时必须全部缓存成功的根相对路径。
	Manifest []string
	// RootDocument 是导航离线时的兜底文档。
	RootDocument string
	VaryHeaders  []string
	SyncTags     []string
}

// FromSettings 将文件配置投影为 worker 配置，并合并清单文件。
func FromSettings(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, errors.New("worker: config required")
	}
	scope, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		return Config{}, fmt.Errorf("parse origin: %w", err)
	}
	manifest, err := cfg.Worker.PrecacheManifest()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Scope:        scope,
		Version:      cfg.Worker.Version,
		PrecacheName: cfg.Worker.PrecacheCacheName(),
		RuntimeName:  cfg.Worker.RuntimeCacheName(),
		Manifest:     manifest,
		RootDocument: cfg.Worker.RootDocument,
		VaryHeaders:  append([]string(nil), cfg.Worker.VaryHeaders...),
		SyncTags:     append([]string(nil), cfg.Worker.SyncTags...),
	}, nil
}

func (c Config) validate() error {
	if c.Scope == nil || !c.Scope.IsAbs() {
		return errors.New("worker: absolute scope url required")
	}
	if c.PrecacheName == "" || c.RuntimeName == "" {
		return errors.New("worker: cache names required")
	}
	if c.PrecacheName == c.RuntimeName {
		return fmt.Errorf("worker: precache and runtime cache share name %q", c.PrecacheName)
	}
	return nil
}

// Fingerprint 对配置做 xxhash 摘要，用于更新检查时判断是否出现了新一代 worker。
// 清单顺序有意义；Vary 头与同步标签按规范化后的集合参与计算。
func (c Config) Fingerprint() uint64 {
	d := xxhash.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = d.WriteString(p)
			_, _ = d.Write([]byte{0})
		}
		_, _ = d.Write([]byte{1})
	}
	write(fetch.Origin(c.Scope), c.Version, c.PrecacheName, c.RuntimeName, c.RootDocument)
	write(c.Manifest...)
	write(normalizedSet(c.VaryHeaders, true)...)
	write(normalizedSet(c.SyncTags, false)...)
	return d.Sum64()
}

func normalizedSet(values []string, fold bool) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if fold {
			v = strings.ToLower(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
