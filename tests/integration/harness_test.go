package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/genui-chat/offline-worker/internal/cache"
	"github.com/genui-chat/offline-worker/internal/config"
	"github.com/genui-chat/offline-worker/internal/fetch"
	"github.com/genui-chat/offline-worker/internal/logging"
	"github.com/genui-chat/offline-worker/internal/proxy"
	"github.com/genui-chat/offline-worker/internal/server"
	"github.com/genui-chat/offline-worker/internal/server/routes"
	"github.com/genui-chat/offline-worker/internal/worker"
)

const appOrigin = "http://app.test"

func shellBodies() map[string]string {
	return map[string]string{
		"/":              "<html>shell</html>",
		"/index.html":    "<html>index</html>",
		"/manifest.json": `{"name":"GenUI Chat"}`,
		"/icon.svg":      "<svg>icon</svg>",
		"/vite.svg":      "<svg>vite</svg>",
		"/app.js":        "console.log('v1')",
	}
}

// workerStack 以与 main 相同的方式装配 Registration、代理与诊断路由。
type workerStack struct {
	t            *testing.T
	app          *fiber.App
	registration *worker.Registration
	storage      cache.Storage
	upstream     *upstreamStub
	version      atomic.Value
}

func newWorkerStack(t *testing.T, upstream *upstreamStub) *workerStack {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      5000,
			Origin:          appOrigin,
			Upstream:        upstream.URL,
			StorageDriver:   cache.DriverFS,
			StoragePath:     t.TempDir(),
			UpstreamTimeout: config.Duration(2 * time.Second),
		},
		Worker: config.WorkerConfig{
			Version:      "v1",
			PrecacheName: "genui-chat",
			RuntimeName:  "genui-runtime",
			Manifest:     append([]string(nil), config.DefaultManifest...),
			RootDocument: "/",
			SyncTags:     []string{"sync-messages"},
		},
	}

	storage, err := cache.Open(cache.OpenOptions{Driver: cfg.Global.StorageDriver, Path: cfg.Global.StoragePath})
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	scope, _ := url.Parse(appOrigin)
	upstreamURL, _ := url.Parse(upstream.URL)
	network := fetch.NewHTTPFetcher(server.NewUpstreamClient(cfg), scope, upstreamURL)

	stack := &workerStack{t: t, storage: storage, upstream: upstream}
	stack.version.Store("v1")

	registry := prometheus.NewRegistry()
	reg, err := worker.NewRegistration(worker.RegistrationOptions{
		Storage: storage,
		Fetcher: network,
		Metrics: worker.NewMetrics(registry),
		Logger:  logging.Discard(),
		Source: func(context.Context) (worker.Config, error) {
			next := *cfg
			next.Worker.Version = stack.version.Load().(string)
			return worker.FromSettings(&next)
		},
	})
	if err != nil {
		t.Fatalf("registration error: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	workerCfg, err := worker.FromSettings(cfg)
	if err != nil {
		t.Fatalf("worker config error: %v", err)
	}
	if err := reg.Register(context.Background(), workerCfg); err != nil {
		t.Fatalf("register error: %v", err)
	}

	logger := logging.Discard()
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(reg, network, scope, logger),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterWorkerRoutes(app, routes.WorkerRoutes{
		Registration: reg,
		Storage:      storage,
		Gatherer:     registry,
		Logger:       logger,
	})

	stack.app = app
	stack.registration = reg
	return stack
}

func (s *workerStack) do(req *http.Request) (*http.Response, string) {
	s.t.Helper()
	resp, err := s.app.Test(req)
	if err != nil {
		s.t.Fatalf("app.Test error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (s *workerStack) navigate(path string) (*http.Response, string) {
	req := httptest.NewRequest(http.MethodGet, appOrigin+path, nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	return s.do(req)
}

func (s *workerStack) asset(path string) (*http.Response, string) {
	req := httptest.NewRequest(http.MethodGet, appOrigin+path, nil)
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Accept", "*/*")
	return s.do(req)
}

func (s *workerStack) post(path, body string) (*http.Response, string) {
	req := httptest.NewRequest(http.MethodPost, appOrigin+path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return s.do(req)
}

func (s *workerStack) cacheNames() []string {
	s.t.Helper()
	names, err := s.storage.Keys(context.Background())
	if err != nil {
		s.t.Fatalf("list caches: %v", err)
	}
	return names
}

// cachedBody 读取指定缓存中的条目正文，未命中返回空字符串。
func (s *workerStack) cachedBody(name, path string) string {
	s.t.Helper()
	c, err := s.storage.Open(context.Background(), name)
	if err != nil {
		s.t.Fatalf("open cache %s: %v", name, err)
	}
	req, _ := fetch.NewRequest(http.MethodGet, appOrigin+path)
	resp, err := c.Match(context.Background(), req)
	if err != nil {
		return ""
	}
	body, _ := resp.Bytes()
	return string(body)
}

// eventually 轮询 cond 直到成功或超时，用于等待后台 revalidation 落盘。
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
