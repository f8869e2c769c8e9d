package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/openvidu/openvidu-meet/internal/locks"
)

// TaskFunc receives the registry's base context, cancelled on Shutdown.
type TaskFunc func(ctx context.Context)

type taskKind int

const (
	kindCron taskKind = iota
	kindTimeout
	kindInterval
)

type task struct {
	name   string
	kind   taskKind
	cronID cron.EntryID
	timer  *time.Timer
	done   chan struct{}
}

// Registry is the process-wide task scheduler. Cron tasks are
// cluster-aware: each firing races for scheduled_task_{name}, so at most one
// replica executes it; the lock is left to expire, which also absorbs small
// clock skew between replicas. Timeout and interval tasks are local to the
// registering replica.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*task
	cron   *cron.Cron
	locks  *locks.Manager
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(lockMgr *locks.Manager, logger *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		tasks:  make(map[string]*task),
		cron:   cron.New(),
		locks:  lockMgr,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	r.cron.Start()
	return r
}

// RegisterCron schedules fn on a cron expression. Firings run under the
// scheduled_task_{name} lock with the given TTL; registering the same name
// again replaces the previous task.
func (r *Registry) RegisterCron(name, spec string, lockTTL time.Duration, fn TaskFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(name)

	wrapped := func() {
		lock, err := r.locks.Acquire(r.ctx, locks.ScheduledTask(name), lockTTL)
		if err != nil {
			r.logger.Warn("cron task lock unavailable, skipping firing",
				zap.String("task", name), zap.Error(err))
			return
		}
		if lock == nil {
			// Another replica owns this firing.
			return
		}
		r.wg.Add(1)
		defer r.wg.Done()
		fn(r.ctx)
	}

	id, err := r.cron.AddFunc(spec, wrapped)
	if err != nil {
		return err
	}
	r.tasks[name] = &task{name: name, kind: kindCron, cronID: id}
	return nil
}

// RegisterTimeout fires fn once after delay unless cancelled by name.
func (r *Registry) RegisterTimeout(name string, delay time.Duration, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(name)

	t := &task{name: name, kind: kindTimeout}
	t.timer = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.tasks, name)
		r.mu.Unlock()
		r.wg.Add(1)
		defer r.wg.Done()
		fn(r.ctx)
	})
	r.tasks[name] = t
}

// RegisterInterval fires fn every period until cancelled.
func (r *Registry) RegisterInterval(name string, period time.Duration, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(name)

	t := &task{name: name, kind: kindInterval, done: make(chan struct{})}
	r.tasks[name] = t
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(r.ctx)
			case <-t.done:
				return
			case <-r.ctx.Done():
				return
			}
		}
	}()
}

// CancelTask removes a task by name; unknown names are a no-op.
func (r *Registry) CancelTask(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(name)
}

// Exists reports whether a task with the name is registered.
func (r *Registry) Exists(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[name]
	return ok
}

// Shutdown cancels every task and waits for in-flight firings.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for name := range r.tasks {
		r.removeLocked(name)
	}
	r.mu.Unlock()

	stopCtx := r.cron.Stop()
	r.cancel()
	<-stopCtx.Done()
	r.wg.Wait()
}

func (r *Registry) removeLocked(name string) {
	t, ok := r.tasks[name]
	if !ok {
		return
	}
	switch t.kind {
	case kindCron:
		r.cron.Remove(t.cronID)
	case kindTimeout:
		t.timer.Stop()
	case kindInterval:
		close(t.done)
	}
	delete(r.tasks, name)
}
