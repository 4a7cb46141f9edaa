package tape

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/devexperts/QD-sub012/compress"
	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/internal/metrics"
	"github.com/devexperts/QD-sub012/internal/options"
	"github.com/devexperts/QD-sub012/internal/pool"
)

// FileSpec names a file opened by a ParallelWriter.
type FileSpec struct {
	// Path is the final location of the file.
	Path string
	// TmpPath, when set, is written instead and renamed to Path on close.
	TmpPath     string
	Compression format.CompressionType
}

func (s FileSpec) target() string {
	if s.TmpPath != "" {
		return s.TmpPath
	}

	return s.Path
}

// entryName is the name compressed archives store the data under.
func (s FileSpec) entryName() string {
	base := filepath.Base(s.Path)
	return strings.TrimSuffix(base, s.Compression.Extension())
}

type taskKind uint8

const (
	taskOpen taskKind = iota
	taskWrite
	taskFlush
	taskClose
	taskRun
)

type task struct {
	kind taskKind
	spec FileSpec
	buf  *pool.ByteBuffer
	fn   func()
	done chan struct{}
}

// ParallelWriter writes one output file on a dedicated goroutine.
//
// Producers append bytes to a buffer that is handed to the worker in
// chunks through a bounded FIFO task queue. Producers only block when the
// queue is full. Tasks are recycled once the queue reached its depth.
//
// I/O errors are logged and counted; the worker keeps processing later
// tasks. The first error is returned by Close.
type ParallelWriter struct {
	name      string
	logger    *zap.Logger
	metrics   *metrics.Writer
	chunkSize int

	bufMu sync.Mutex
	buf   *pool.ByteBuffer

	queueMu  sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	queue    []*task
	free     []*task
	depth    int
	stopping bool
	closed   atomic.Bool

	// owned by the worker
	file    *os.File
	sink    io.WriteCloser
	spec    FileSpec
	failed  bool
	errOnce sync.Once
	err     error

	done chan struct{}
}

// NewParallelWriter starts the worker of a parallel writer. name is used
// in log messages only.
func NewParallelWriter(name string, opts ...Option) (*ParallelWriter, error) {
	cfg := newConfig(roleParallel)
	if err := options.ApplyAndValidate(cfg, opts...); err != nil {
		return nil, err
	}

	w := &ParallelWriter{
		name:      name,
		logger:    cfg.logger.With(zap.String("output", name)),
		metrics:   cfg.writeMetrics(),
		chunkSize: cfg.chunkSize,
		depth:     cfg.queueDepth,
		queue:     make([]*task, 0, cfg.queueDepth),
		free:      make([]*task, 0, cfg.queueDepth),
		done:      make(chan struct{}),
	}
	w.notEmpty = sync.NewCond(&w.queueMu)
	w.notFull = sync.NewCond(&w.queueMu)

	go w.work()

	return w, nil
}

// Open closes the current file, if any, and opens spec.
func (w *ParallelWriter) Open(spec FileSpec) error {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()

	if err := w.handOffLocked(); err != nil {
		return err
	}

	return w.put(taskOpen, func(t *task) { t.spec = spec })
}

// Write buffers p. Full chunks are queued for the worker.
func (w *ParallelWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, fmt.Errorf("parallel writer %s: %w", w.name, errs.ErrClosed)
	}

	w.bufMu.Lock()
	defer w.bufMu.Unlock()

	if w.buf == nil {
		w.buf = pool.GetChunkBuffer()
	}
	w.buf.MustWrite(p)
	if w.buf.Len() >= w.chunkSize {
		if err := w.handOffLocked(); err != nil {
			return 0, err
		}
	}

	return len(p), nil
}

// Flush queues buffered bytes and a flush of the compressor.
func (w *ParallelWriter) Flush() error {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()

	if err := w.handOffLocked(); err != nil {
		return err
	}

	return w.put(taskFlush, nil)
}

// CloseFile queues buffered bytes and the close of the current file. The
// returned channel is closed once the file is closed and moved to its final
// path.
func (w *ParallelWriter) CloseFile() (<-chan struct{}, error) {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()

	if err := w.handOffLocked(); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	if err := w.put(taskClose, func(t *task) { t.done = done }); err != nil {
		return nil, err
	}

	return done, nil
}

// Run queues fn to be called on the worker after every task queued before.
func (w *ParallelWriter) Run(fn func()) error {
	w.bufMu.Lock()
	defer w.bufMu.Unlock()

	return w.put(taskRun, func(t *task) { t.fn = fn })
}

// Sync blocks until every task queued so far has been executed.
func (w *ParallelWriter) Sync() error {
	done := make(chan struct{})

	w.bufMu.Lock()
	err := w.handOffLocked()
	if err == nil {
		err = w.put(taskRun, func(t *task) { t.done = done })
	}
	w.bufMu.Unlock()

	if err != nil {
		return err
	}
	<-done

	return nil
}

// Close closes the current file, stops the worker and waits for it. It is
// safe to call more than once.
func (w *ParallelWriter) Close() error {
	w.closed.Store(true)

	w.bufMu.Lock()
	if err := w.handOffLocked(); err == nil {
		_ = w.put(taskClose, nil)
	}

	w.queueMu.Lock()
	w.stopping = true
	w.notEmpty.Broadcast()
	w.notFull.Broadcast()
	w.queueMu.Unlock()
	w.bufMu.Unlock()

	<-w.done

	return w.err
}

// handOffLocked queues the buffered bytes. bufMu must be held.
func (w *ParallelWriter) handOffLocked() error {
	if w.buf == nil || w.buf.Len() == 0 {
		return nil
	}

	buf := w.buf
	w.buf = nil
	if err := w.put(taskWrite, func(t *task) { t.buf = buf }); err != nil {
		pool.PutChunkBuffer(buf)
		return err
	}

	return nil
}

// put blocks while the queue is full.
func (w *ParallelWriter) put(kind taskKind, init func(*task)) error {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()

	for len(w.queue) >= w.depth && !w.stopping {
		w.notFull.Wait()
	}
	if w.stopping {
		return fmt.Errorf("parallel writer %s: %w", w.name, errs.ErrClosed)
	}

	var t *task
	if n := len(w.free); n > 0 {
		t = w.free[n-1]
		w.free = w.free[:n-1]
	} else {
		t = &task{}
	}
	t.kind = kind
	if init != nil {
		init(t)
	}

	w.queue = append(w.queue, t)
	w.metrics.QueueDepth.Inc()
	w.notEmpty.Signal()

	return nil
}

// take returns nil once the writer is stopping and the queue is drained.
func (w *ParallelWriter) take() *task {
	w.queueMu.Lock()
	defer w.queueMu.Unlock()

	for len(w.queue) == 0 {
		if w.stopping {
			return nil
		}
		w.notEmpty.Wait()
	}

	t := w.queue[0]
	copy(w.queue, w.queue[1:])
	w.queue[len(w.queue)-1] = nil
	w.queue = w.queue[:len(w.queue)-1]
	w.metrics.QueueDepth.Dec()
	w.notFull.Signal()

	return t
}

func (w *ParallelWriter) recycle(t *task) {
	*t = task{}

	w.queueMu.Lock()
	if len(w.free) < w.depth {
		w.free = append(w.free, t)
	}
	w.queueMu.Unlock()
}

func (w *ParallelWriter) work() {
	defer close(w.done)

	for {
		t := w.take()
		if t == nil {
			w.closeFile()
			return
		}

		w.execute(t)
		if t.done != nil {
			close(t.done)
		}
		w.recycle(t)
	}
}

func (w *ParallelWriter) execute(t *task) {
	switch t.kind {
	case taskOpen:
		w.closeFile()
		w.openFile(t.spec)
	case taskWrite:
		w.write(t.buf)
		pool.PutChunkBuffer(t.buf)
	case taskFlush:
		w.flush()
	case taskClose:
		w.closeFile()
	case taskRun:
		if t.fn != nil {
			t.fn()
		}
	}
}

func (w *ParallelWriter) openFile(spec FileSpec) {
	w.spec = spec
	w.failed = false

	target := spec.target()
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		w.fail("open", err)
		return
	}

	file, err := os.Create(target)
	if err != nil {
		w.fail("open", err)
		return
	}

	compression := spec.Compression
	if compression == 0 {
		compression = format.CompressionNone
	}
	codec, err := compress.GetCodec(compression)
	if err != nil {
		_ = file.Close()
		w.fail("open", err)

		return
	}
	sink, err := codec.NewWriter(file, spec.entryName())
	if err != nil {
		_ = file.Close()
		w.fail("open", err)

		return
	}

	w.file, w.sink = file, sink
	w.logger.Debug("file opened", zap.String("path", RedactAddress(target)))
}

func (w *ParallelWriter) write(buf *pool.ByteBuffer) {
	if w.sink == nil {
		if !w.failed {
			w.fail("write", fmt.Errorf("%w: no open file", errs.ErrInvalidState))
		}
		return
	}

	if _, err := w.sink.Write(buf.Bytes()); err != nil {
		w.fail("write", err)
		return
	}
	w.metrics.BytesWritten.Add(float64(buf.Len()))
}

func (w *ParallelWriter) flush() {
	if w.sink == nil {
		return
	}
	if f, ok := w.sink.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			w.fail("flush", err)
		}
	}
}

func (w *ParallelWriter) closeFile() {
	if w.file == nil {
		return
	}

	err := w.sink.Close()
	err = errors.Join(err, w.file.Close())
	w.file, w.sink = nil, nil
	if err != nil {
		w.fail("close", err)
	}

	if w.spec.TmpPath != "" {
		if err := os.Rename(w.spec.TmpPath, w.spec.Path); err != nil {
			w.fail("rename", err)
			return
		}
	}
	w.logger.Debug("file closed", zap.String("path", RedactAddress(w.spec.Path)))
}

// fail logs an I/O error. Writes are dropped until the next open after a
// failure, logging only once.
func (w *ParallelWriter) fail(op string, err error) {
	w.failed = true
	w.metrics.Errors.WithLabelValues(op).Inc()
	w.logger.Error("output failed",
		zap.String("op", op),
		zap.String("path", RedactAddress(w.spec.target())),
		zap.Error(err),
	)
	w.errOnce.Do(func() {
		w.err = fmt.Errorf("%s %s: %w", op, RedactAddress(w.spec.target()), err)
	})
}
