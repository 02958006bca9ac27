package worker

import "context"

// HandleSync 是后台同步的挂载点：已登记的标签以一个空的 WaitUntil 确认后立即完成，
// 不做任何实际同步；未登记的标签被忽略。返回值表示标签是否被确认。
func (w *Worker) HandleSync(ev *SyncEvent) bool {
	if _, ok := w.syncTags[ev.Tag]; !ok {
		w.metrics.observeSync("unregistered", false)
		w.logger.WithFields(w.fields()).WithField("tag", ev.Tag).Debug("sync_tag_ignored")
		return false
	}
	ev.WaitUntil(func(context.Context) error { return nil })
	w.metrics.observeSync(ev.Tag, true)
	w.logger.WithFields(w.fields()).WithField("tag", ev.Tag).Info("sync_acknowledged")
	return true
}
