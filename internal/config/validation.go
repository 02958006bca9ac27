package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	"fs":      {},
	"leveldb": {},
	"redis":   {},
}

const supportedStorageDriverList = "fs|leveldb|redis"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateOrigin(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if _, ok := supportedStorageDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	if g.StorageDriver != "redis" && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.StorageDriver == "redis" && strings.TrimSpace(g.RedisURL) == "" {
		return newFieldError("Global.RedisURL", "redis 驱动必须配置 RedisURL")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.UpdateInterval.DurationValue() < 0 {
		return newFieldError("Global.UpdateInterval", "不能为负数")
	}

	return c.Worker.validate()
}

func (w WorkerConfig) validate() error {
	if w.Version == "" {
		return newFieldError(workerField("Version"), "不能为空")
	}
	if w.PrecacheName == "" {
		return newFieldError(workerField("PrecacheName"), "不能为空")
	}
	if w.RuntimeName == "" {
		return newFieldError(workerField("RuntimeName"), "不能为空")
	}
	if w.PrecacheCacheName() == w.RuntimeCacheName() {
		return newFieldError(workerField("RuntimeName"), "不能与 PrecacheName 相同")
	}
	if !strings.HasPrefix(w.RootDocument, "/") {
		return newFieldError(workerField("RootDocument"), "必须以 / 开头")
	}
	for i, entry := range w.Manifest {
		if err := validateManifestEntry(entry); err != nil {
			return newFieldError(workerField(fmt.Sprintf("Manifest[%d]", i)), err.Error())
		}
	}
	for i, tag := range w.SyncTags {
		if strings.TrimSpace(tag) == "" {
			return newFieldError(workerField(fmt.Sprintf("SyncTags[%d]", i)), "不能为空")
		}
	}
	return nil
}

// validateManifestEntry 只接受根相对路径，清单资源必须属于 worker 自身的源。
func validateManifestEntry(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return errors.New("不能为空")
	}
	if !strings.HasPrefix(entry, "/") || strings.HasPrefix(entry, "//") {
		return fmt.Errorf("必须是以 / 开头的根相对路径: %s", entry)
	}
	return nil
}

func validateOrigin(raw string) error {
	if err := validateUpstream(raw); err != nil {
		return err
	}
	parsed, _ := url.Parse(raw)
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("源地址不允许包含路径: %s", raw)
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
