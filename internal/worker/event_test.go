package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitUntilOutlivesRequestContext(t *testing.T) {
	f := newFixture(t, testConfig("v1"), newStubNetwork(nil))
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool

	ev := f.worker.newEvent(ctx)
	ev.WaitUntil(func(ctx context.Context) error {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return nil
	})
	<-started
	cancel()
	close(release)

	if err := ev.Wait(); err != nil {
		t.Fatalf("任务不应失败: %v", err)
	}
	if sawCancel.Load() {
		t.Fatalf("请求取消不应传递给延长任务")
	}
}

func TestWaitUntilCollectsErrorsAndPanics(t *testing.T) {
	f := newFixture(t, testConfig("v1"), newStubNetwork(nil))
	boom := errors.New("boom")

	ev := f.worker.newEvent(context.Background())
	ev.WaitUntil(func(context.Context) error { return boom })
	ev.WaitUntil(func(context.Context) error { panic("kaboom") })

	err := ev.Wait()
	if !errors.Is(err, boom) {
		t.Fatalf("应收集任务错误，实际 %v", err)
	}
}

func TestCloseWaitsForExtendedWork(t *testing.T) {
	f := newFixture(t, testConfig("v1"), newStubNetwork(nil))
	var finished atomic.Bool

	ev := f.worker.newEvent(context.Background())
	ev.WaitUntil(func(context.Context) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})

	if err := f.worker.Close(context.Background()); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("Close 应等待延长任务结束")
	}

	late := f.worker.newEvent(context.Background())
	late.WaitUntil(func(context.Context) error { return nil })
	if err := late.Wait(); !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("关闭后的延长请求应被拒绝，实际 %v", err)
	}
}

func TestCloseTimeoutCancelsExtendedWork(t *testing.T) {
	f := newFixture(t, testConfig("v1"), newStubNetwork(nil))

	ev := f.worker.newEvent(context.Background())
	ev.WaitUntil(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.worker.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("超时关闭应返回 DeadlineExceeded，实际 %v", err)
	}
	if err := ev.Wait(); !errors.Is(err, context.Canceled) {
		t.Fatalf("任务应被取消，实际 %v", err)
	}
}
