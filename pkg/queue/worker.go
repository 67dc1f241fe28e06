package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// stopSentinel wakes the consumer for shutdown without closing the queue
// channel, so late producers cannot panic on a closed channel.
const stopSentinel int64 = -1

// Worker runs the asynchronous half of the pipeline: a consumer goroutine
// draining the content queue and a flusher goroutine sweeping quiesced
// albums. One consumer is deliberate: publishes are serialized so the
// per-account rate limit and delivery interlock see no intra-process races.
type Worker struct {
	tasks         *Tasks
	queue         chan int64
	flushInterval time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
	flushDone chan struct{}
}

func NewWorker(tasks *Tasks, queueSize int) *Worker {
	if queueSize < 1 {
		queueSize = 64
	}
	w := &Worker{
		tasks:         tasks,
		queue:         make(chan int64, queueSize),
		flushInterval: time.Second,
		done:          make(chan struct{}),
		flushDone:     make(chan struct{}),
	}
	tasks.SetEnqueue(w.Enqueue)
	return w
}

// Enqueue schedules a content item. Blocks when the queue is full, which
// back-pressures the ingress path instead of dropping work.
func (w *Worker) Enqueue(contentItemID int64) {
	w.queue <- contentItemID
}

// Start launches the consumer and flusher; subsequent calls are no-ops.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		// The flusher stops on cancel; the consumer keeps an uncancelled
		// context so queued deliveries finish during drain.
		ctx, cancel := context.WithCancel(context.Background())
		w.cancel = cancel
		go w.consume(context.Background())
		go w.flushLoop(ctx)
		slog.Info("queue worker started", "flush_interval", w.flushInterval)
	})
}

// Stop halts the flusher, drains already-queued items, and waits for both
// goroutines to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		w.queue <- stopSentinel
		<-w.done
		<-w.flushDone
		slog.Info("queue worker stopped")
	})
}

func (w *Worker) consume(ctx context.Context) {
	defer close(w.done)
	for id := range w.queue {
		if id == stopSentinel {
			// Drain whatever producers managed to queue before the
			// sentinel, then exit.
			for {
				select {
				case pending := <-w.queue:
					if pending == stopSentinel {
						continue
					}
					w.process(ctx, pending)
				default:
					return
				}
			}
		}
		w.process(ctx, id)
	}
}

func (w *Worker) process(ctx context.Context, contentItemID int64) {
	if err := w.tasks.ProcessContentItem(ctx, contentItemID); err != nil {
		slog.Error("content processing failed",
			"content_item_id", contentItemID, "error", err)
	}
}

func (w *Worker) flushLoop(ctx context.Context) {
	defer close(w.flushDone)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := w.tasks.FlushDueAlbums(ctx, now.UTC()); err != nil {
				slog.Error("album flush sweep failed", "error", err)
			}
		}
	}
}
