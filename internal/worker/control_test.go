package worker

import (
	"context"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCacheURLsMessageStoresPayload(t *testing.T) {
	network := newStubNetwork(map[string]string{"/a.js": "a", "/b.css": "b"})
	f := newFixture(t, testConfig("v1"), network)
	runtime := f.worker.Config().RuntimeName

	ev := f.worker.NewMessageEvent(context.Background(), []byte(`{"type":"CACHE_URLS","payload":["/a.js","/b.css"]}`))
	f.worker.HandleMessage(ev)
	if err := ev.Wait(); err != nil {
		t.Fatalf("消息处理不应返回错误: %v", err)
	}

	c, _ := f.storage.Open(context.Background(), runtime)
	keys, err := c.Keys(context.Background())
	if err != nil {
		t.Fatalf("列出条目失败: %v", err)
	}
	want := []string{testScope + "/a.js", testScope + "/b.css"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("运行时缓存应包含两个 URL，期望 %v 实际 %v", want, keys)
	}
}

func TestCacheURLsFailureIsBestEffort(t *testing.T) {
	network := newStubNetwork(map[string]string{"/a.js": "a"})
	f := newFixture(t, testConfig("v1"), network)

	ev := f.worker.NewMessageEvent(context.Background(), []byte(`{"type":"CACHE_URLS","payload":["/a.js","/missing.css"]}`))
	f.worker.HandleMessage(ev)
	if err := ev.Wait(); err != nil {
		t.Fatalf("批量失败不应暴露给发送方: %v", err)
	}
	if names, _ := f.storage.Keys(context.Background()); len(names) != 0 {
		t.Fatalf("批量失败时不应写入任何条目: %v", names)
	}
}

func TestCacheURLsSkipsCrossOriginEntries(t *testing.T) {
	network := newStubNetwork(map[string]string{"/a.js": "a"})
	f := newFixture(t, testConfig("v1"), network)

	ev := f.worker.NewMessageEvent(context.Background(), []byte(`{"type":"CACHE_URLS","payload":["/a.js","https://cdn.example.com/x.js",42]}`))
	f.worker.HandleMessage(ev)
	_ = ev.Wait()

	c, _ := f.storage.Open(context.Background(), f.worker.Config().RuntimeName)
	keys, _ := c.Keys(context.Background())
	if !reflect.DeepEqual(keys, []string{testScope + "/a.js"}) {
		t.Fatalf("只应缓存同源字符串条目，实际 %v", keys)
	}
}

func TestIgnoredMessagesChangeNothing(t *testing.T) {
	messages := []string{
		`not json`,
		`{"type":"PING"}`,
		`{"type":"CACHE_URLS"}`,
		`{"type":"CACHE_URLS","payload":"/a.js"}`,
		`{}`,
		`[]`,
	}
	network := newStubNetwork(map[string]string{"/a.js": "a"})
	f := newFixture(t, testConfig("v1"), network)

	for _, raw := range messages {
		ev := f.worker.NewMessageEvent(context.Background(), []byte(raw))
		f.worker.HandleMessage(ev)
		if err := ev.Wait(); err != nil {
			t.Fatalf("%s 不应产生错误: %v", raw, err)
		}
	}
	if network.totalCalls() != 0 {
		t.Fatalf("忽略的消息不应触发网络请求")
	}
	if names, _ := f.storage.Keys(context.Background()); len(names) != 0 {
		t.Fatalf("忽略的消息不应改变缓存: %v", names)
	}
	if f.worker.SkipWaitingRequested() {
		t.Fatalf("忽略的消息不应请求 skip-waiting")
	}
	if got := testutil.ToFloat64(f.metrics.messages.WithLabelValues("ignored")); got != float64(len(messages)) {
		t.Fatalf("忽略计数错误: %v", got)
	}
}

func TestSkipWaitingMessage(t *testing.T) {
	f := newFixture(t, testConfig("v1"), newStubNetwork(nil))
	ev := f.worker.NewMessageEvent(context.Background(), []byte(`{"type":"SKIP_WAITING"}`))
	f.worker.HandleMessage(ev)
	if !f.worker.SkipWaitingRequested() {
		t.Fatalf("SKIP_WAITING 应记录 skip-waiting 请求")
	}
}

func TestSkipWaitingPromotesWaitingWorker(t *testing.T) {
	var promoted *Worker
	storage := newTestStorage(t)
	w, err := New(testConfig("v1"), Options{
		Storage:       storage,
		Fetcher:       newStubNetwork(defaultBodies()),
		OnSkipWaiting: func(w *Worker) { promoted = w },
	})
	if err != nil {
		t.Fatalf("创建 worker 失败: %v", err)
	}
	if err := w.Install(context.Background()); err != nil {
		t.Fatalf("install 失败: %v", err)
	}
	if promoted != nil {
		t.Fatalf("install 过程中不应触发提升回调")
	}

	w.SkipWaiting()
	if promoted != w {
		t.Fatalf("waiting 状态下的 skip-waiting 应触发提升回调")
	}
}

func TestSyncHookAcknowledgesRegisteredTags(t *testing.T) {
	f := newFixture(t, testConfig("v1"), newStubNetwork(nil))

	ev := f.worker.NewSyncEvent(context.Background(), "sync-messages")
	if !f.worker.HandleSync(ev) {
		t.Fatalf("已登记标签应被确认")
	}
	if err := ev.Wait(); err != nil {
		t.Fatalf("同步占位不应失败: %v", err)
	}

	ev = f.worker.NewSyncEvent(context.Background(), "sync-unknown")
	if f.worker.HandleSync(ev) {
		t.Fatalf("未登记标签应被忽略")
	}
	if names, _ := f.storage.Keys(context.Background()); len(names) != 0 {
		t.Fatalf("同步占位不应改变缓存")
	}
}
