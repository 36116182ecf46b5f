package app

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const workerStopTimeout = 5 * time.Second

// backgroundWorker: фоновая горутина с собственной отменой.
type backgroundWorker struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// startWorker запускает run в отдельной горутине.
func startWorker(ctx context.Context, name string, run func(context.Context)) *backgroundWorker {
	workerCtx, cancel := context.WithCancel(ctx)
	w := &backgroundWorker{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		run(workerCtx)
	}()
	return w
}

// stopWorker отменяет воркер и ждёт его завершения не дольше workerStopTimeout.
func stopWorker(w *backgroundWorker, logger *log.Entry) {
	if w == nil {
		return
	}
	w.cancel()

	select {
	case <-w.done:
		logger.WithField("worker", w.name).Info("worker stopped")
	case <-time.After(workerStopTimeout):
		logger.WithField("worker", w.name).Warn("worker did not stop in time")
	}
}
