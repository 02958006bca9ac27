package worker

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

// 控制消息类型。
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageCacheURLs   = "CACHE_URLS"
)

// HandleMessage 处理前台应用的控制消息。格式错误、类型未知或缺少 payload 的消息都被忽略，
// 不返回错误也不改变任何状态。CACHE_URLS 的批量写入在 WaitUntil 中执行，调用方可通过 ev.Wait 等待。
func (w *Worker) HandleMessage(ev *MessageEvent) {
	if !gjson.ValidBytes(ev.Data) {
		w.ignoreMessage("", "malformed")
		return
	}
	msg := gjson.ParseBytes(ev.Data)
	kind := msg.Get("type").String()

	switch kind {
	case MessageSkipWaiting:
		w.metrics.observeMessage(kind)
		w.logger.WithFields(w.fields()).Info("skip_waiting_requested")
		w.SkipWaiting()
	case MessageCacheURLs:
		payload := msg.Get("payload")
		if !payload.IsArray() {
			w.ignoreMessage(kind, "payload_not_array")
			return
		}
		reqs := w.messageRequests(payload)
		w.metrics.observeMessage(kind)
		ev.WaitUntil(func(ctx context.Context) error {
			if err := w.cacheAll(ctx, w.versions.RuntimeName(), reqs); err != nil {
				w.logger.WithFields(w.fields()).WithError(err).Warn("cache_urls_failed")
				return nil
			}
			w.logger.WithFields(w.fields()).WithField("urls", len(reqs)).Info("cache_urls_stored")
			return nil
		})
	default:
		w.ignoreMessage(kind, "unknown_type")
	}
}

// messageRequests 只保留同源的字符串 URL，跨源条目不会进入任何缓存。
func (w *Worker) messageRequests(payload gjson.Result) []*fetch.Request {
	var reqs []*fetch.Request
	for _, item := range payload.Array() {
		if item.Type != gjson.String {
			continue
		}
		req, err := fetch.Resolve(w.cfg.Scope, item.String())
		if err != nil || !fetch.SameOrigin(req.URL, w.cfg.Scope) {
			w.logger.WithFields(w.fields()).WithField("url", item.String()).Debug("cache_urls_entry_skipped")
			continue
		}
		reqs = append(reqs, req)
	}
	return reqs
}

func (w *Worker) ignoreMessage(kind, reason string) {
	w.metrics.observeMessage("ignored")
	w.logger.WithFields(w.fields()).
		WithFields(logrus.Fields{"type": kind, "reason": reason}).
		Debug("message_ignored")
}
