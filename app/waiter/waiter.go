package waiter

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type WaitFunc func(ctx context.Context) error

type Waiter interface {
	Add(fns ...WaitFunc)
	Wait() error
	Context() context.Context
	CancelFunc() context.CancelFunc
}

type waiterCfg struct {
	signals []os.Signal
}

type waiter struct {
	ctx        context.Context
	cancelFn   context.CancelFunc
	notifyStop context.CancelFunc
	fns        []WaitFunc
}

// NewWaiter supervises a set of long-running functions. The derived context
// is canceled on the configured signals, on the parent's cancellation, or
// when any function returns an error.
func NewWaiter(ctx context.Context, cancelFn context.CancelFunc, options ...Option) Waiter {
	cfg := waiterCfg{
		signals: []os.Signal{os.Interrupt, syscall.SIGINT, syscall.SIGTERM},
	}
	for _, option := range options {
		option(&cfg)
	}

	w := &waiter{
		cancelFn: cancelFn,
	}
	w.ctx, w.notifyStop = signal.NotifyContext(ctx, cfg.signals...)

	return w
}

func (w *waiter) Add(fns ...WaitFunc) {
	w.fns = append(w.fns, fns...)
}

func (w *waiter) Wait() error {
	defer w.notifyStop()

	group, gCtx := errgroup.WithContext(w.ctx)

	group.Go(func() error {
		<-gCtx.Done()
		w.cancelFn()
		return nil
	})

	for _, fn := range w.fns {
		fn := fn
		group.Go(func() error {
			return fn(gCtx)
		})
	}

	return group.Wait()
}

func (w *waiter) Context() context.Context {
	return w.ctx
}

func (w *waiter) CancelFunc() context.CancelFunc {
	return w.cancelFn
}
