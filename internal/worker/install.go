package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/genui-chat/offline-worker/internal/cache"
	"github.com/genui-chat/offline-worker/internal/fetch"
)

// StatusError 表示网络可达但响应不是 200，批量预缓存因此失败。
type StatusError struct {
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
}

// Install 把清单中的全部资源作为一个原子批次写入预缓存。任一资源失败则整体失败、
// worker 变为 redundant，之前的 active worker 不受影响。成功后立即请求 skip-waiting。
func (w *Worker) Install(ctx context.Context) error {
	w.setState(StateInstalling)
	w.logger.WithFields(w.fields()).
		WithFields(logrus.Fields{"cache": w.versions.PrecacheName(), "assets": len(w.cfg.Manifest)}).
		Info("worker_installing")

	ev := w.newEvent(ctx)
	ev.WaitUntil(func(ctx context.Context) error {
		reqs, err := w.resolveAll(w.cfg.Manifest)
		if err != nil {
			return err
		}
		return w.cacheAll(ctx, w.versions.PrecacheName(), reqs)
	})
	if err := ev.Wait(); err != nil {
		w.setState(StateRedundant)
		w.metrics.observeInstall(false)
		w.logger.WithFields(w.fields()).WithError(err).Error("worker_install_failed")
		return fmt.Errorf("install worker %s: %w", w.cfg.Version, err)
	}

	w.metrics.observeInstall(true)
	w.SkipWaiting()
	w.setState(StateInstalled)
	w.logger.WithFields(w.fields()).Info("worker_installed")
	return nil
}

func (w *Worker) resolveAll(refs []string) ([]*fetch.Request, error) {
	reqs := make([]*fetch.Request, 0, len(refs))
	for _, ref := range refs {
		req, err := fetch.Resolve(w.cfg.Scope, ref)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

// cacheAll 并发拉取 reqs，全部成功后一次性写入 name 缓存；任何失败都不会留下部分条目。
func (w *Worker) cacheAll(ctx context.Context, name string, reqs []*fetch.Request) error {
	items := make([]cache.Item, len(reqs))
	closeAll := func() {
		for _, item := range items {
			if item.Response != nil {
				_ = item.Response.Close()
			}
		}
	}

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, req := range reqs {
		p.Go(func(ctx context.Context) error {
			resp, err := w.fetcher.Fetch(ctx, req)
			if err != nil {
				return err
			}
			if resp.Status != http.StatusOK {
				_ = resp.Close()
				return &StatusError{URL: req.URL.String(), Status: resp.Status}
			}
			items[i] = cache.Item{Request: req, Response: resp}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		closeAll()
		return err
	}

	c, err := w.storage.Open(ctx, name)
	if err != nil {
		closeAll()
		return err
	}
	return c.PutAll(ctx, items)
}
