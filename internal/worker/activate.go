package worker

import (
	"context"
	"errors"
	"fmt"
)

// Activate 删除所有不属于当前一代的缓存，然后接管全部客户端。与浏览器一致，
// 清理失败不会阻止激活，错误仅返回给调用方记录。
func (w *Worker) Activate(ctx context.Context) error {
	w.setState(StateActivating)

	ev := w.newEvent(ctx)
	ev.WaitUntil(w.reconcile)
	err := ev.Wait()

	claimed := w.clients.Claim(w)
	w.setState(StateActivated)
	w.metrics.observeActivation(err == nil)

	entry := w.logger.WithFields(w.fields()).WithField("claimed", claimed)
	if err != nil {
		entry.WithError(err).Warn("worker_activated_with_errors")
		return fmt.Errorf("activate worker %s: %w", w.cfg.Version, err)
	}
	entry.Info("worker_activated")
	return nil
}

// reconcile 是幂等的：再次执行只会枚举一遍缓存名称。
func (w *Worker) reconcile(ctx context.Context) error {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}

	var errs []error
	for _, name := range w.versions.Stale(names) {
		deleted, err := w.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete cache %s: %w", name, err))
			continue
		}
		if deleted {
			w.metrics.cachesDeleted.Inc()
			w.logger.WithFields(w.fields()).WithField("cache", name).Info("stale_cache_deleted")
		}
	}
	return errors.Join(errs...)
}
