package worker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/genui-chat/offline-worker/internal/cache"
	"github.com/genui-chat/offline-worker/internal/fetch"
)

const testScope = "http://app.test"

var errNetworkDown = errors.New("network unreachable")

// stubNetwork 模拟上游：按路径返回固定正文，可整体断网或让指定路径阻塞。
type stubNetwork struct {
	mu      sync.Mutex
	bodies  map[string]string
	status  map[string]int
	calls   map[string]int
	offline bool
	gates   map[string]chan struct{}
}

func newStubNetwork(bodies map[string]string) *stubNetwork {
	return &stubNetwork{
		bodies: bodies,
		status: map[string]int{},
		calls:  map[string]int{},
		gates:  map[string]chan struct{}{},
	}
}

func (n *stubNetwork) Fetch(ctx context.Context, req *fetch.Request) (*fetch.Response, error) {
	n.mu.Lock()
	path := req.URL.Path
	n.calls[path]++
	gate := n.gates[path]
	n.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.offline {
		return nil, errNetworkDown
	}
	status, ok := n.status[path]
	body, found := n.bodies[path]
	if !ok {
		status = http.StatusOK
		if !found {
			status = http.StatusNotFound
			body = "not found"
		}
	}
	resp := fetch.NewBufferedResponse(status, http.Header{"Content-Type": {"text/plain"}}, []byte(body))
	resp.URL = req.URL.String()
	resp.Source = fetch.SourceNetwork
	return resp, nil
}

func (n *stubNetwork) setBody(path, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bodies[path] = body
}

func (n *stubNetwork) setStatus(path string, status int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status[path] = status
}

func (n *stubNetwork) setOffline(offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = offline
}

func (n *stubNetwork) block(path string) chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	gate := make(chan struct{})
	n.gates[path] = gate
	return gate
}

func (n *stubNetwork) callCount(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *stubNetwork) totalCalls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, c := range n.calls {
		total += c
	}
	return total
}

func testConfig(version string) Config {
	scope, _ := url.Parse(testScope)
	return Config{
		Scope:        scope,
		Version:      version,
		PrecacheName: "genui-chat-" + version,
		RuntimeName:  "genui-runtime-" + version,
		Manifest:     []string{"/", "/index.html", "/manifest.json"},
		RootDocument: "/",
		SyncTags:     []string{"sync-messages"},
	}
}

func defaultBodies() map[string]string {
	return map[string]string{
		"/":              "<html>root</html>",
		"/index.html":    "<html>index</html>",
		"/manifest.json": `{"name":"genui"}`,
	}
}

func newTestStorage(t *testing.T) cache.Storage {
	t.Helper()
	store, err := cache.NewStore(t.TempDir(), cache.Options{})
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type fixture struct {
	worker  *Worker
	storage cache.Storage
	network *stubNetwork
	metrics *Metrics
}

func newFixture(t *testing.T, cfg Config, network *stubNetwork) *fixture {
	t.Helper()
	storage := newTestStorage(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	w, err := New(cfg, Options{Storage: storage, Fetcher: network, Metrics: metrics})
	if err != nil {
		t.Fatalf("创建 worker 失败: %v", err)
	}
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return &fixture{worker: w, storage: storage, network: network, metrics: metrics}
}

func mustRequest(t *testing.T, rawURL string) *fetch.Request {
	t.Helper()
	req, err := fetch.NewRequest(http.MethodGet, rawURL)
	if err != nil {
		t.Fatalf("构建请求失败: %v", err)
	}
	return req
}

func navigationRequest(t *testing.T, rawURL string) *fetch.Request {
	t.Helper()
	req := mustRequest(t, rawURL)
	req.Mode = fetch.ModeNavigate
	req.Header.Set("Accept", "text/html")
	return req
}

func readBody(t *testing.T, resp *fetch.Response) string {
	t.Helper()
	b, err := resp.Bytes()
	if err != nil {
		t.Fatalf("读取正文失败: %v", err)
	}
	return string(b)
}

// seed 直接写入一条缓存，模拟之前运行留下的条目。
func seed(t *testing.T, storage cache.Storage, name, rawURL, body string) {
	t.Helper()
	c, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("打开缓存失败: %v", err)
	}
	resp := fetch.NewBufferedResponse(http.StatusOK, http.Header{"Content-Type": {"text/plain"}}, []byte(body))
	if err := c.Put(context.Background(), mustRequest(t, rawURL), resp); err != nil {
		t.Fatalf("写入缓存失败: %v", err)
	}
}

func cachedBody(t *testing.T, storage cache.Storage, name, rawURL string) (string, bool) {
	t.Helper()
	c, err := storage.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("打开缓存失败: %v", err)
	}
	resp, err := c.Match(context.Background(), mustRequest(t, rawURL))
	if errors.Is(err, cache.ErrNotFound) {
		return "", false
	}
	if err != nil {
		t.Fatalf("匹配缓存失败: %v", err)
	}
	return readBody(t, resp), true
}
