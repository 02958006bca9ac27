package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

// ErrWorkerClosed 表示 worker 正在关闭，不再接受新的生命周期延长请求。
var ErrWorkerClosed = errors.New("worker is shutting down")

// ExtendableEvent 是生命周期延长令牌：WaitUntil 登记的任务在 worker 关闭前一定会被等待。
type ExtendableEvent struct {
	worker  *Worker
	ctx     context.Context
	pending sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

func (w *Worker) newEvent(ctx context.Context) *ExtendableEvent {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ExtendableEvent{worker: w, ctx: ctx}
}

// Context 返回事件发起方的 context，请求结束后会被取消。
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil 启动 fn 并让 worker 存活到它结束。fn 拿到的 context 不随请求取消，
// 只在 worker 被强制关闭时取消；调用方不会被阻塞。
func (e *ExtendableEvent) WaitUntil(fn func(ctx context.Context) error) {
	e.pending.Add(1)
	if !e.worker.track() {
		e.fail(ErrWorkerClosed)
		e.pending.Done()
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(e.ctx))
	stop := context.AfterFunc(e.worker.ctx, cancel)
	go func() {
		defer e.worker.lifetime.Done()
		defer e.pending.Done()
		defer cancel()
		defer stop()
		defer func() {
			if r := recover(); r != nil {
				e.fail(fmt.Errorf("panic in extended task: %v", r))
			}
		}()
		if err := fn(ctx); err != nil {
			e.fail(err)
		}
	}()
}

// Wait 阻塞到所有已登记任务结束，返回它们的错误合集。
func (e *ExtendableEvent) Wait() error {
	e.pending.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return errors.Join(e.errs...)
}

func (e *ExtendableEvent) fail(err error) {
	e.mu.Lock()
	e.errs = append(e.errs, err)
	e.mu.Unlock()
}

// FetchEvent 携带一次被拦截的请求以及发起它的客户端。
type FetchEvent struct {
	*ExtendableEvent
	Request  *fetch.Request
	ClientID string
}

// NewFetchEvent wraps req for dispatch to w.
func (w *Worker) NewFetchEvent(ctx context.Context, req *fetch.Request, clientID string) *FetchEvent {
	return &FetchEvent{ExtendableEvent: w.newEvent(ctx), Request: req, ClientID: clientID}
}

// MessageEvent 携带前台应用发送的原始 JSON 消息。
type MessageEvent struct {
	*ExtendableEvent
	Data []byte
}

// NewMessageEvent wraps a control message for dispatch to w.
func (w *Worker) NewMessageEvent(ctx context.Context, data []byte) *MessageEvent {
	return &MessageEvent{ExtendableEvent: w.newEvent(ctx), Data: data}
}

// SyncEvent 对应一次后台同步触发。
type SyncEvent struct {
	*ExtendableEvent
	Tag string
}

// NewSyncEvent wraps a sync trigger for dispatch to w.
func (w *Worker) NewSyncEvent(ctx context.Context, tag string) *SyncEvent {
	return &SyncEvent{ExtendableEvent: w.newEvent(ctx), Tag: tag}
}
