package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sourcekit/internal/domain"
)

type callResult struct {
	value any
	err   error
}

type callRequest struct {
	ctx    context.Context
	method string
	args   []any
	reply  chan callResult
}

// worker owns one instance and executes its calls one at a time in arrival
// order.
type worker struct {
	id          string
	desc        domain.Descriptor
	inst        Instance
	calls       chan callRequest
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	execTimeout time.Duration
	logger      *slog.Logger
}

func newWorker(desc domain.Descriptor, inst Instance, execTimeout time.Duration, logger *slog.Logger) *worker {
	w := &worker{
		id:          desc.ID,
		desc:        desc,
		inst:        inst,
		calls:       make(chan callRequest, 64),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		execTimeout: execTimeout,
		logger:      logger,
	}
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	defer func() {
		if err := w.inst.Close(); err != nil {
			w.logger.Warn("extension close error", "error", err)
		}
	}()
	for {
		select {
		case <-w.stop:
			return
		case req := <-w.calls:
			req.reply <- w.execute(req)
		}
	}
}

func (w *worker) execute(req callRequest) (res callResult) {
	defer func() {
		if r := recover(); r != nil {
			res = callResult{err: domain.NewSubSystemError("extension", "Loader.Invoke", domain.ErrInvocation,
				fmt.Sprintf("%s panicked: %v", req.method, r))}
		}
	}()
	ctx := req.ctx
	if w.execTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.execTimeout)
		defer cancel()
	}
	value, err := w.inst.Call(ctx, req.method, req.args...)
	return callResult{value: value, err: err}
}

// call queues method and waits for its result. Callers that give up through
// ctx leave the call running; its result is discarded.
func (w *worker) call(ctx context.Context, method string, args []any) (any, error) {
	req := callRequest{ctx: context.WithoutCancel(ctx), method: method, args: args, reply: make(chan callResult, 1)}
	select {
	case w.calls <- req:
	case <-w.done:
		return nil, w.notLoaded()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-w.done:
		select {
		case res := <-req.reply:
			return res.value, res.err
		default:
			return nil, w.notLoaded()
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (w *worker) notLoaded() error {
	return domain.NewSubSystemError("extension", "Loader.Invoke", domain.ErrNotLoaded, w.id+" was unloaded")
}

// shutdown stops the worker after the call in progress and waits for the
// instance to close.
func (w *worker) shutdown() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}
