package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/genui-chat/offline-worker/internal/cache"
	"github.com/genui-chat/offline-worker/internal/fetch"
	"github.com/genui-chat/offline-worker/internal/logging"
)

// State 是 worker 在生命周期中的位置。
type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return "unknown"
	}
}

// Options 汇总 worker 的外部依赖。
type Options struct {
	Storage cache.Storage
	Fetcher fetch.Fetcher
	Clients *Clients
	Metrics *Metrics
	Logger  *logrus.Logger
	// OnSkipWaiting 在已安装（waiting）的 worker 收到 skip-waiting 时被调用，由 Registration 注入。
	OnSkipWaiting func(*Worker)
}

// Worker 是一代离线缓存 worker。内存中的状态只有生命周期与延长令牌，缓存全部落在 Storage。
type Worker struct {
	id       string
	cfg      Config
	versions VersionManager
	storage  cache.Storage
	fetcher  fetch.Fetcher
	clients  *Clients
	metrics  *Metrics
	logger   *logrus.Logger
	syncTags map[string]struct{}

	onSkipWaiting func(*Worker)

	mu          sync.Mutex
	state       State
	skipWaiting bool
	closing     bool

	lifetime sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// New 构造处于 parsed 状态的 worker。
func New(cfg Config, opts Options) (*Worker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if opts.Storage == nil {
		return nil, errors.New("worker: storage required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("worker: fetcher required")
	}
	if opts.Clients == nil {
		opts.Clients = NewClients()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	tags := make(map[string]struct{}, len(cfg.SyncTags))
	for _, tag := range cfg.SyncTags {
		tags[tag] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		id:            uuid.NewString(),
		cfg:           cfg,
		versions:      NewVersionManager(cfg),
		storage:       opts.Storage,
		fetcher:       opts.Fetcher,
		clients:       opts.Clients,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		syncTags:      tags,
		onSkipWaiting: opts.OnSkipWaiting,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func (w *Worker) ID() string { return w.id }
func (w *Worker) Config() Config { return w.cfg }
func (w *Worker) Versions() VersionManager { return w.versions }
func (w *Worker) Storage() cache.Storage { return w.storage }

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	prev := w.state
	w.state = state
	w.mu.Unlock()
	if prev != state {
		w.logger.WithFields(w.fields()).
			WithField("previous", prev.String()).
			Debug("worker_state_changed")
	}
}

func (w *Worker) fields() logrus.Fields {
	return logging.WorkerFields(w.id, w.cfg.Version, w.State().String())
}

// SkipWaiting 请求立即激活，不等待旧 worker 的客户端离开。安装尚未完成时只记录请求，
// 由 Registration 在 install 结束后处理。
func (w *Worker) SkipWaiting() {
	w.mu.Lock()
	w.skipWaiting = true
	waiting := w.state == StateInstalled
	hook := w.onSkipWaiting
	w.mu.Unlock()

	if waiting && hook != nil {
		hook(w)
	}
}

// SkipWaitingRequested reports whether SkipWaiting has been called.
func (w *Worker) SkipWaitingRequested() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.skipWaiting
}

func (w *Worker) track() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing {
		return false
	}
	w.lifetime.Add(1)
	return true
}

// Close 拒绝新的延长请求并等待已登记任务结束；ctx 到期时取消剩余任务并返回 ctx 错误。
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closing = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.lifetime.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}
