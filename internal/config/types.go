package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、作用域源、上游、日志与存储。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	Origin          string   `mapstructure:"Origin"`
	Upstream        string   `mapstructure:"Upstream"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageDriver   string   `mapstructure:"StorageDriver"`
	StoragePath     string   `mapstructure:"StoragePath"`
	RedisURL        string   `mapstructure:"RedisURL"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	UpdateInterval  Duration `mapstructure:"UpdateInterval"`
}

// WorkerConfig 描述一代 worker：版本号、缓存名前缀、预缓存清单与同步标签。
// 任何字段变化都会在下一次更新检查时触发新的 install/activate。
type WorkerConfig struct {
	Version      string   `mapstructure:"Version"`
	PrecacheName string   `mapstructure:"PrecacheName"`
	RuntimeName  string   `mapstructure:"RuntimeName"`
	Manifest     []string `mapstructure:"Manifest"`
	ManifestFile string   `mapstructure:"ManifestFile"`
	RootDocument string   `mapstructure:"RootDocument"`
	VaryHeaders  []string `mapstructure:"VaryHeaders"`
	SyncTags     []string `mapstructure:"SyncTags"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Worker WorkerConfig `mapstructure:"Worker"`
}

// PrecacheCacheName 返回带版本后缀的预缓存名称，例如 genui-chat-v1。
func (w WorkerConfig) PrecacheCacheName() string {
	return versionedName(w.PrecacheName, w.Version)
}

// RuntimeCacheName 返回带版本后缀的运行时缓存名称，例如 genui-runtime-v1。
func (w WorkerConfig) RuntimeCacheName() string {
	return versionedName(w.RuntimeName, w.Version)
}

func versionedName(prefix, version string) string {
	return fmt.Sprintf("%s-%s", prefix, version)
}
