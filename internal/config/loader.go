package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultManifest 是未配置清单时的预缓存资源列表。
var DefaultManifest = []string{"/", "/index.html", "/manifest.json", "/icon.svg", "/vite.svg"}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if file := cfg.Worker.ManifestFile; file != "" && !filepath.IsAbs(file) {
		cfg.Worker.ManifestFile = filepath.Join(filepath.Dir(path), file)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageDriver", "fs")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("UpdateInterval", "60s")
	v.SetDefault("Worker.Version", "v1")
	v.SetDefault("Worker.PrecacheName", "genui-chat")
	v.SetDefault("Worker.RuntimeName", "genui-runtime")
	v.SetDefault("Worker.RootDocument", "/")
	v.SetDefault("Worker.SyncTags", []string{"sync-messages"})
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.Origin == "" {
		g.Origin = fmt.Sprintf("http://localhost:%d", g.ListenPort)
	}
	g.Origin = strings.TrimRight(strings.TrimSpace(g.Origin), "/")
	g.Upstream = strings.TrimRight(strings.TrimSpace(g.Upstream), "/")
	g.StorageDriver = strings.ToLower(strings.TrimSpace(g.StorageDriver))
	if g.StorageDriver == "" {
		g.StorageDriver = "fs"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.UpdateInterval.DurationValue() == 0 {
		g.UpdateInterval = Duration(time.Minute)
	}
}

func applyWorkerDefaults(w *WorkerConfig) {
	w.Version = strings.TrimSpace(w.Version)
	w.PrecacheName = strings.TrimSpace(w.PrecacheName)
	w.RuntimeName = strings.TrimSpace(w.RuntimeName)
	if w.RootDocument == "" {
		w.RootDocument = "/"
	}
	if len(w.Manifest) == 0 && w.ManifestFile == "" {
		w.Manifest = append([]string(nil), DefaultManifest...)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
