package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/genui-chat/offline-worker/internal/cache"
	"github.com/genui-chat/offline-worker/internal/config"
	"github.com/genui-chat/offline-worker/internal/fetch"
	"github.com/genui-chat/offline-worker/internal/logging"
	"github.com/genui-chat/offline-worker/internal/proxy"
	"github.com/genui-chat/offline-worker/internal/server"
	"github.com/genui-chat/offline-worker/internal/server/routes"
	"github.com/genui-chat/offline-worker/internal/version"
	"github.com/genui-chat/offline-worker/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

const (
	envConfigPath   = "OFFLINE_WORKER_CONFIG"
	shutdownTimeout = 30 * time.Second
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(stdErr, "加载 .env 失败: %v\n", err)
		os.Exit(2)
	}
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

// loadDotEnv 在文件存在时把其中的变量注入进程环境，已存在的环境变量不会被覆盖。
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	workerCfg, err := worker.FromSettings(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 worker 配置失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["worker_version"] = workerCfg.Version
		fields["manifest"] = len(workerCfg.Manifest)
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 缓存存储 → 网络 → Registration（首次 install/activate）→ Fiber server。
	// 首次注册失败直接退出，避免在没有预缓存的情况下对外宣称离线可用。
	store, err := cache.Open(cache.OpenOptions{
		Driver:   cfg.Global.StorageDriver,
		Path:     cfg.Global.StoragePath,
		RedisURL: cfg.Global.RedisURL,
		Options:  cache.Options{VaryHeaders: cfg.Worker.VaryHeaders},
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	network, err := newNetwork(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化上游失败: %v\n", err)
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	reg, err := worker.NewRegistration(worker.RegistrationOptions{
		Storage:        store,
		Fetcher:        network,
		Metrics:        worker.NewMetrics(registry),
		Logger:         logger,
		Source:         reloadWorkerConfig(opts.configPath),
		UpdateInterval: cfg.Global.UpdateInterval.DurationValue(),
	})
	if err != nil {
		fmt.Fprintf(stdErr, "构建 Registration 失败: %v\n", err)
		return 1
	}
	if err := reg.Register(ctx, workerCfg); err != nil {
		fmt.Fprintf(stdErr, "worker 安装失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["origin"] = cfg.Global.Origin
	fields["upstream"] = cfg.Global.Upstream
	fields["storage_driver"] = cfg.Global.StorageDriver
	fields["worker_version"] = workerCfg.Version
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	go reg.Run(ctx)
	watchConfig(ctx, opts.configPath, reg, logger)

	serveErr := startHTTPServer(ctx, cfg, reg, store, network, registry, workerCfg.Scope, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := reg.Close(shutdownCtx); err != nil {
		logger.WithField("action", "shutdown").WithError(err).Warn("worker_close_failed")
	}

	if serveErr != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", serveErr)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-worker", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_WORKER_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(envConfigPath)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// newNetwork 构建 worker 与透传共用的网络访问器：同源请求改写到 Upstream。
func newNetwork(cfg *config.Config) (*fetch.HTTPFetcher, error) {
	scope, err := url.Parse(cfg.Global.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	upstream, err := url.Parse(cfg.Global.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	return fetch.NewHTTPFetcher(server.NewUpstreamClient(cfg), scope, upstream), nil
}

// reloadWorkerConfig 在每次更新检查时重新读取配置文件，相当于浏览器重新下载 worker 脚本。
func reloadWorkerConfig(path string) worker.ConfigSource {
	return func(context.Context) (worker.Config, error) {
		cfg, err := config.Load(path)
		if err != nil {
			return worker.Config{}, err
		}
		return worker.FromSettings(cfg)
	}
}

// watchConfig 在配置文件变化时立即触发一次更新检查，不必等待下一个 UpdateInterval。
func watchConfig(ctx context.Context, path string, reg *worker.Registration, logger *logrus.Logger) {
	err := config.Watch(ctx, path, func() {
		installed, err := reg.Update(ctx)
		entry := logger.WithFields(logrus.Fields{"action": "config_reload", "installed": installed})
		if err != nil {
			entry.WithError(err).Warn("config_reload_failed")
			return
		}
		entry.Info("config_reloaded")
	})
	if err != nil {
		logger.WithField("action", "config_watch").WithError(err).Warn("config_watch_disabled")
	}
}

func startHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	reg *worker.Registration,
	store cache.Storage,
	network fetch.Fetcher,
	gatherer prometheus.Gatherer,
	scope *url.URL,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(reg, network, scope, logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterWorkerRoutes(app, routes.WorkerRoutes{
		Registration: reg,
		Storage:      store,
		Gatherer:     gatherer,
		Logger:       logger,
	})

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	})
}
