package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/genui-chat/offline-worker/internal/cache"
	"github.com/genui-chat/offline-worker/internal/fetch"
	"github.com/genui-chat/offline-worker/internal/logging"
)

// ErrNoWorker 表示目标 worker（active 或 waiting）不存在。
var ErrNoWorker = errors.New("no worker available")

const (
	// retireTimeout 限制被替换的旧 worker 等待其延长任务的时长。
	retireTimeout = 30 * time.Second
	// clientIdleTTL 之后未再出现的客户端会在更新检查时被清理。
	clientIdleTTL = 24 * time.Hour
)

// ConfigSource 在每次更新检查时提供最新的 worker 配置，例如重新读取配置文件。
type ConfigSource func(ctx context.Context) (Config, error)

// Target 选择控制消息的接收方。
type Target string

const (
	TargetActive  Target = "active"
	TargetWaiting Target = "waiting"
)

// RegistrationOptions 汇总 Registration 的依赖。
type RegistrationOptions struct {
	Storage        cache.Storage
	Fetcher        fetch.Fetcher
	Metrics        *Metrics
	Logger         *logrus.Logger
	Source         ConfigSource
	UpdateInterval time.Duration
}

// Registration 持有 active 与 waiting worker，驱动 install → activate，并按固定间隔检查更新。
type Registration struct {
	storage  cache.Storage
	fetcher  fetch.Fetcher
	metrics  *Metrics
	logger   *logrus.Logger
	source   ConfigSource
	interval time.Duration
	clients  *Clients

	// updateMu 串行化 install/activate 周期。
	updateMu sync.Mutex

	mu         sync.RWMutex
	active     *Worker
	waiting    *Worker
	installing *Worker
	lastCheck  time.Time
	lastErr    error
}

// NewRegistration validates opts and returns an empty registration.
func NewRegistration(opts RegistrationOptions) (*Registration, error) {
	if opts.Storage == nil {
		return nil, errors.New("registration: storage required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("registration: fetcher required")
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Registration{
		storage:  opts.Storage,
		fetcher:  opts.Fetcher,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		source:   opts.Source,
		interval: opts.UpdateInterval,
		clients:  NewClients(),
	}, nil
}

// Register 安装并激活第一代 worker。安装失败时返回错误，已有的 active worker 保持不变。
func (r *Registration) Register(ctx context.Context, cfg Config) error {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	return r.install(ctx, cfg)
}

// Update 从 ConfigSource 读取配置，指纹与 active worker 不同时安装新一代。返回是否发生了安装。
func (r *Registration) Update(ctx context.Context) (bool, error) {
	if r.source == nil {
		return false, nil
	}

	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	cfg, err := r.source(ctx)
	if err == nil {
		if active := r.Active(); active != nil && active.Config().Fingerprint() == cfg.Fingerprint() {
			r.recordCheck(nil)
			return false, nil
		}
		err = r.install(ctx, cfg)
	}
	r.recordCheck(err)
	if err != nil {
		return false, fmt.Errorf("update: %w", err)
	}
	return true, nil
}

// Run 每隔 UpdateInterval 执行一次更新检查，直到 ctx 结束。
func (r *Registration) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Update(ctx); err != nil {
				r.logger.WithField("action", "update_check").WithError(err).Warn("update_check_failed")
			}
			if n := r.clients.Prune(clientIdleTTL); n > 0 {
				r.logger.WithFields(logrus.Fields{"action": "update_check", "pruned": n}).Debug("idle_clients_pruned")
			}
		}
	}
}

// install 要求持有 updateMu。
func (r *Registration) install(ctx context.Context, cfg Config) error {
	w, err := New(cfg, Options{
		Storage:       r.storage,
		Fetcher:       r.fetcher,
		Clients:       r.clients,
		Metrics:       r.metrics,
		Logger:        r.logger,
		OnSkipWaiting: r.skipWaiting,
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.installing = w
	r.mu.Unlock()

	if err := w.Install(ctx); err != nil {
		r.mu.Lock()
		r.installing = nil
		r.mu.Unlock()
		_ = w.Close(ctx)
		return err
	}

	r.mu.Lock()
	r.installing = nil
	superseded := r.waiting
	r.waiting = w
	hasActive := r.active != nil
	r.mu.Unlock()

	if superseded != nil {
		superseded.setState(StateRedundant)
		go r.retire(superseded)
	}
	if w.SkipWaitingRequested() || !hasActive {
		r.promote(ctx, w)
	}
	return nil
}

// skipWaiting 处理发给 waiting worker 的 SKIP_WAITING 消息。
func (r *Registration) skipWaiting(w *Worker) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()
	r.promote(context.Background(), w)
}

// promote 把 waiting 的 w 提升为 active，并让旧 active 退役。要求持有 updateMu。
func (r *Registration) promote(ctx context.Context, w *Worker) {
	r.mu.Lock()
	if r.waiting != w {
		r.mu.Unlock()
		return
	}
	r.waiting = nil
	prev := r.active
	r.mu.Unlock()

	// 激活期间的清理错误已在 Activate 中记录，worker 仍然成为 active。
	_ = w.Activate(ctx)

	r.mu.Lock()
	r.active = w
	r.mu.Unlock()

	if prev != nil && prev != w {
		prev.setState(StateRedundant)
		go r.retire(prev)
	}
}

func (r *Registration) retire(w *Worker) {
	ctx, cancel := context.WithTimeout(context.Background(), retireTimeout)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		r.logger.WithFields(w.fields()).WithError(err).Warn("worker_retire_timeout")
		return
	}
	r.logger.WithFields(w.fields()).Debug("worker_retired")
}

func (r *Registration) recordCheck(err error) {
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.lastErr = err
	r.mu.Unlock()
}

// Active returns the worker currently serving fetch events, or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed worker waiting for activation, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Clients exposes the client registry.
func (r *Registration) Clients() *Clients {
	return r.clients
}

// Controller 返回应处理该客户端请求的 worker。导航请求代表一个新文档，总是交给当前 active；
// 空客户端 ID 同样视为由 active 控制。返回 nil 表示请求不应被拦截。
func (r *Registration) Controller(clientID string, navigation bool) *Worker {
	active := r.Active()
	switch {
	case clientID == "":
		return active
	case navigation:
		return r.clients.Navigate(clientID, active)
	default:
		return r.clients.Controller(clientID, active)
	}
}

// PostMessage 把控制消息投递给 target。wait 为 true 时等待消息触发的异步任务结束。
func (r *Registration) PostMessage(ctx context.Context, target Target, data []byte, wait bool) error {
	var w *Worker
	switch target {
	case TargetWaiting:
		w = r.Waiting()
	default:
		w = r.Active()
	}
	if w == nil {
		return fmt.Errorf("%w: %s", ErrNoWorker, target)
	}

	ev := w.NewMessageEvent(ctx, data)
	w.HandleMessage(ev)
	if wait {
		return ev.Wait()
	}
	return nil
}

// Sync 把同步触发投递给 active worker，返回标签是否被确认。
func (r *Registration) Sync(ctx context.Context, tag string, wait bool) (bool, error) {
	w := r.Active()
	if w == nil {
		return false, fmt.Errorf("%w: %s", ErrNoWorker, TargetActive)
	}
	ev := w.NewSyncEvent(ctx, tag)
	ok := w.HandleSync(ev)
	if wait {
		return ok, ev.Wait()
	}
	return ok, nil
}

// Close 依次关闭所有 worker，等待它们的延长任务结束。
func (r *Registration) Close(ctx context.Context) error {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	r.mu.Lock()
	workers := []*Worker{r.active, r.waiting}
	r.active, r.waiting = nil, nil
	r.mu.Unlock()

	var errs []error
	for _, w := range workers {
		if w == nil {
			continue
		}
		if err := w.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WorkerStatus 是诊断接口中单个 worker 的快照。
type WorkerStatus struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Version      string `json:"version"`
	PrecacheName string `json:"precache_cache"`
	RuntimeName  string `json:"runtime_cache"`
	Controlled   int    `json:"controlled_clients"`
}

// Status 是 Registration 的诊断快照。
type Status struct {
	Active          *WorkerStatus `json:"active"`
	Waiting         *WorkerStatus `json:"waiting"`
	Installing      *WorkerStatus `json:"installing"`
	Clients         int           `json:"clients"`
	LastUpdateCheck *time.Time    `json:"last_update_check,omitempty"`
	LastUpdateError string        `json:"last_update_error,omitempty"`
}

// Status returns a point-in-time snapshot for diagnostics.
func (r *Registration) Status() Status {
	r.mu.RLock()
	active, waiting, installing := r.active, r.waiting, r.installing
	lastCheck, lastErr := r.lastCheck, r.lastErr
	r.mu.RUnlock()

	status := Status{
		Active:     r.workerStatus(active),
		Waiting:    r.workerStatus(waiting),
		Installing: r.workerStatus(installing),
		Clients:    r.clients.Len(),
	}
	if !lastCheck.IsZero() {
		status.LastUpdateCheck = &lastCheck
	}
	if lastErr != nil {
		status.LastUpdateError = lastErr.Error()
	}
	return status
}

func (r *Registration) workerStatus(w *Worker) *WorkerStatus {
	if w == nil {
		return nil
	}
	return &WorkerStatus{
		ID:           w.ID(),
		State:        w.State().String(),
		Version:      w.cfg.Version,
		PrecacheName: w.versions.PrecacheName(),
		RuntimeName:  w.versions.RuntimeName(),
		Controlled:   r.clients.Controlled(w),
	}
}
