package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/genui-chat/offline-worker/internal/cache"
	"github.com/genui-chat/offline-worker/internal/fetch"
)

// ErrOffline 表示导航请求无法联网，且缓存中既没有该页面也没有根文档。
var ErrOffline = errors.New("offline: no cached document available")

// Strategy 是 fetch 路由为请求选择的处理方式。
type Strategy string

const (
	// StrategyPassthrough 不拦截，调用方原样转发。
	StrategyPassthrough Strategy = "passthrough"
	// StrategyNetworkOnly 用于同源的非 GET 请求，只走网络、从不缓存。
	StrategyNetworkOnly Strategy = "network-only"
	// StrategyNetworkFirst 用于导航请求。
	StrategyNetworkFirst Strategy = "network-first"
	// StrategyStaleWhileRevalidate 用于脚本、样式、图片与数据请求。
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
)

// Route 对请求分类，不产生副作用。跨源请求永远不被拦截。
func (w *Worker) Route(req *fetch.Request) Strategy {
	if req == nil || !fetch.SameOrigin(req.URL, w.cfg.Scope) {
		return StrategyPassthrough
	}
	if req.Method != http.MethodGet {
		return StrategyNetworkOnly
	}
	if req.IsNavigation() {
		return StrategyNetworkFirst
	}
	return StrategyStaleWhileRevalidate
}

// HandleFetch 处理一次 fetch 事件。intercepted 为 false 时返回的响应为 nil，调用方应自行转发；
// 返回的响应归调用方所有，必须被消费或 Close。
func (w *Worker) HandleFetch(ev *FetchEvent) (resp *fetch.Response, intercepted bool, err error) {
	strategy := w.Route(ev.Request)
	started := time.Now()
	defer func() {
		w.metrics.observeFetch(strategy, resp, err, time.Since(started))
	}()

	switch strategy {
	case StrategyPassthrough:
		return nil, false, nil
	case StrategyNetworkOnly:
		resp, err = w.fetcher.Fetch(ev.Context(), ev.Request)
	case StrategyNetworkFirst:
		resp, err = w.networkFirst(ev)
	default:
		resp, err = w.staleWhileRevalidate(ev)
	}
	return resp, true, err
}

// networkFirst 优先联网并把 200 响应的副本写入运行时缓存；网络失败时依次回退到
// 精确匹配的缓存与根文档，不向页面暴露错误。
func (w *Worker) networkFirst(ev *FetchEvent) (*fetch.Response, error) {
	ctx := ev.Context()
	req := ev.Request

	resp, netErr := w.fetcher.Fetch(ctx, req)
	if netErr == nil {
		if resp.Status != http.StatusOK {
			return resp, nil
		}
		netErr = w.storeClone(ctx, req, resp)
		if netErr == nil || !resp.BodyUsed() {
			return resp, nil
		}
	}
	w.logger.WithFields(w.fields()).
		WithField("url", req.URL.String()).
		WithError(netErr).
		Debug("navigation_network_failed")

	if cached, ok := w.match(ctx, req); ok {
		return cached, nil
	}

	root, err := fetch.Resolve(w.cfg.Scope, w.cfg.RootDocument)
	if err == nil {
		root.Header = req.Header.Clone()
		root.Mode = req.Mode
		if cached, ok := w.match(ctx, root); ok {
			cached.Source = fetch.SourceFallback
			return cached, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrOffline, req.URL, netErr)
}

// staleWhileRevalidate 命中缓存时立即返回缓存副本，并通过 WaitUntil 发起恰好一次后台刷新；
// 未命中时联网，200 响应先写缓存再返回，网络错误原样返回给调用方。
func (w *Worker) staleWhileRevalidate(ev *FetchEvent) (*fetch.Response, error) {
	ctx := ev.Context()
	req := ev.Request

	if cached, ok := w.match(ctx, req); ok {
		background := req.Clone()
		ev.WaitUntil(func(ctx context.Context) error {
			w.revalidate(ctx, background)
			return nil
		})
		return cached, nil
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusOK {
		if err := w.storeClone(ctx, req, resp); err != nil && resp.BodyUsed() {
			return nil, err
		}
	}
	return resp, nil
}

// revalidate 的任何失败都被吞掉，只记录 debug 日志与指标。
func (w *Worker) revalidate(ctx context.Context, req *fetch.Request) {
	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.metrics.observeRevalidation("error")
		w.logger.WithFields(w.fields()).WithField("url", req.URL.String()).WithError(err).Debug("revalidate_failed")
		return
	}
	if resp.Status != http.StatusOK {
		_ = resp.Close()
		w.metrics.observeRevalidation("skipped")
		return
	}

	runtime, err := w.storage.Open(ctx, w.versions.RuntimeName())
	if err == nil {
		err = runtime.Put(ctx, req, resp)
	}
	if err != nil {
		_ = resp.Close()
		w.metrics.observeRevalidation("error")
		w.logger.WithFields(w.fields()).WithField("url", req.URL.String()).WithError(err).Debug("revalidate_store_failed")
		return
	}
	w.metrics.observeRevalidation("updated")
}

// storeClone 把 resp 的副本写入运行时缓存，resp 本身保持可读。
// 只有读取正文失败时 resp 才会被标记为已消费，调用方据此区分网络错误与存储错误。
func (w *Worker) storeClone(ctx context.Context, req *fetch.Request, resp *fetch.Response) error {
	clone, err := resp.Clone()
	if err != nil {
		return err
	}
	runtime, err := w.storage.Open(ctx, w.versions.RuntimeName())
	if err == nil {
		err = runtime.Put(ctx, req, clone)
	}
	if err != nil {
		w.logger.WithFields(w.fields()).WithField("url", req.URL.String()).WithError(err).Warn("runtime_cache_put_failed")
	}
	return err
}

func (w *Worker) match(ctx context.Context, req *fetch.Request) (*fetch.Response, bool) {
	resp, err := w.storage.Match(ctx, req)
	if err == nil {
		return resp, true
	}
	if !errors.Is(err, cache.ErrNotFound) {
		w.logger.WithFields(w.fields()).WithField("url", req.URL.String()).WithError(err).Warn("cache_match_failed")
	}
	return nil, false
}
