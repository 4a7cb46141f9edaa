package tape

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/internal/metrics"
	"github.com/devexperts/QD-sub012/internal/pool"
	"github.com/devexperts/QD-sub012/processor"
	"github.com/devexperts/QD-sub012/qtp"
	"github.com/devexperts/QD-sub012/record"
)

var (
	_ qtp.MessageConsumer           = (*Writer)(nil)
	_ processor.DataHandler         = (*Writer)(nil)
	_ processor.SubscriptionHandler = (*Writer)(nil)
)

const noTime = math.MinInt64

// Writer records messages into a tape file, rotating split files and
// keeping the .time index next to them.
//
// All methods are safe for concurrent use. Bytes are handed to a
// ParallelWriter per output, so callers only block on disk I/O when its
// queue is full.
type Writer struct {
	cfg      *config
	logger   *zap.Logger
	metrics  *metrics.Writer
	composer qtp.Composer
	split    bool

	data  *ParallelWriter
	times *ParallelWriter

	mu        sync.Mutex
	open      bool
	path      string
	position  int64
	nextSplit int64
	openedAt  time.Time
	lastTime  int64
	indexTime int64
	beatTime  int64
	closed    bool

	stop     chan struct{}
	flushers sync.WaitGroup
}

// NewWriter creates a writer for address. Files are opened lazily by the
// first message.
func NewWriter(address string, opts ...Option) (*Writer, error) {
	cfg, err := loadConfig(roleWriter, address, writerKeys, opts)
	if err != nil {
		return nil, err
	}

	composer, err := qtp.NewComposer(cfg.format, qtp.WithTimeField(cfg.timestamps == format.TimestampsField))
	if err != nil {
		return nil, err
	}

	w := &Writer{
		cfg:      cfg,
		logger:   cfg.logger.With(zap.String("tape", RedactAddress(cfg.path))),
		metrics:  cfg.writeMetrics(),
		composer: composer,
		split:    IsSplitPath(cfg.path),
		stop:     make(chan struct{}),
	}

	if w.data, err = NewParallelWriter("data", cfg.parallelOptions()...); err != nil {
		return nil, err
	}
	if cfg.timestamps.UsesTimeFile() {
		if w.times, err = NewParallelWriter("time", cfg.parallelOptions()...); err != nil {
			_ = w.data.Close()
			return nil, err
		}
	}

	w.flushers.Add(1)
	go w.flushLoop()

	w.logger.Info("tape writer created",
		zap.Stringer("format", cfg.format),
		zap.Stringer("compression", cfg.compression),
		zap.Stringer("timestamps", cfg.timestamps),
		zap.Duration("split", cfg.split),
		zap.Duration("storage_time", cfg.storageTime),
		zap.String("storage_size", FormatSize(cfg.storageSize)),
	)

	return w, nil
}

// WriteData records one data message. The message time is the first event
// time of entries, or the clock when entries carry none.
func (w *Writer) WriteData(c record.Contract, entries []record.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	return w.write(eventTime(entries), func(dst []byte) ([]byte, error) {
		return w.composer.AppendData(dst, c, entries)
	})
}

// WriteSubscription records one subscription message.
func (w *Writer) WriteSubscription(c record.Contract, add bool, entries []record.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	return w.write(0, func(dst []byte) ([]byte, error) {
		return w.composer.AppendSubscription(dst, c, add, entries)
	})
}

// WriteHeartbeat advances the writer time to the heartbeat time. Heartbeats
// themselves are stored only when times are recorded as messages.
func (w *Writer) WriteHeartbeat(hb qtp.Heartbeat) error {
	if !hb.HasTime {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errs.ErrClosed
	}
	w.lastTime = hb.TimeMillis

	return w.rotateLocked(hb.TimeMillis)
}

func eventTime(entries []record.Entry) int64 {
	for i := range entries {
		if t := entries[i].EventTime; t != 0 {
			return t
		}
	}

	return 0
}

func (w *Writer) write(at int64, compose func([]byte) ([]byte, error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errs.ErrClosed
	}

	now := w.currentTimeLocked(at)
	if err := w.rotateLocked(now); err != nil {
		return err
	}

	bb := pool.GetMessageBuffer()
	defer pool.PutMessageBuffer(bb)

	if w.cfg.timestamps == format.TimestampsMessage && now != w.beatTime {
		bb.B = w.composer.AppendHeartbeat(bb.B, qtp.Heartbeat{TimeMillis: now, HasTime: true})
		w.beatTime = now
	}

	var err error
	if bb.B, err = compose(bb.B); err != nil {
		return err
	}

	if w.times != nil && now != w.indexTime {
		line := AppendTimeLine(nil, w.cfg.timestamps, TimePosition{Time: now, Position: w.position}, w.cfg.location)
		if _, err := w.times.Write(line); err != nil {
			return err
		}
		w.indexTime = now
	}

	return w.emitLocked(bb.Bytes())
}

// currentTimeLocked picks the time of a message: its own, then the last
// heartbeat time, then the clock.
func (w *Writer) currentTimeLocked(at int64) int64 {
	switch {
	case at != 0:
		w.lastTime = at
	case w.lastTime == 0:
		return w.cfg.clock().UnixMilli()
	}

	return w.lastTime
}

func (w *Writer) emitLocked(b []byte) error {
	if _, err := w.data.Write(b); err != nil {
		return err
	}
	w.position += int64(len(b))

	return nil
}

// rotateLocked opens the first file or moves on to the next split file
// once now reaches the split boundary.
func (w *Writer) rotateLocked(now int64) error {
	if w.open {
		if w.cfg.split <= 0 || now < w.nextSplit {
			return nil
		}
		if err := w.closeFileLocked(now); err != nil {
			return err
		}
	}

	return w.openFileLocked(now)
}

func (w *Writer) openFileLocked(now int64) error {
	path := w.cfg.path
	if w.split {
		path = w.splitPathLocked(now)
	}

	spec := FileSpec{Path: path, Compression: w.cfg.compression}
	if w.cfg.tmpDir != "" {
		spec.TmpPath = tmpPath(w.cfg.tmpDir, path)
	}
	if err := w.data.Open(spec); err != nil {
		return err
	}
	if w.times != nil {
		tspec := FileSpec{Path: TimeFilePath(path), Compression: format.CompressionNone}
		if w.cfg.tmpDir != "" {
			tspec.TmpPath = tmpPath(w.cfg.tmpDir, tspec.Path)
		}
		if err := w.times.Open(tspec); err != nil {
			return err
		}
	}

	w.open = true
	w.path = path
	w.position = 0
	w.indexTime, w.beatTime = noTime, noTime
	w.openedAt = w.cfg.clock()
	if w.cfg.split > 0 {
		split := w.cfg.split.Milliseconds()
		w.nextSplit = now - mod(now, split) + split
	}
	w.metrics.FilesOpened.Inc()
	w.logger.Info("tape file opened", zap.String("path", RedactAddress(path)))

	w.composer.ResetSession()
	if w.cfg.format.HasProtocolHeader() {
		return w.emitLocked(w.composer.AppendDescribeProtocol(nil, w.protocol()))
	}

	return nil
}

// splitPathLocked names the split file opened at now. A file reopened in
// the same second, after the idle valve closed it, gets the next free name.
func (w *Writer) splitPathLocked(now int64) string {
	for t := now; ; t += time.Second.Milliseconds() {
		path := SplitPath(w.cfg.path, time.UnixMilli(t).In(w.cfg.location))
		if path == w.path {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}

		return path
	}
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}

	return m
}

func (w *Writer) protocol() *qtp.ProtocolDescriptor {
	send := []qtp.MessageType{qtp.MessageHeartbeat}
	for _, c := range record.Contracts {
		send = append(send, qtp.DataMessage(c), qtp.SubscriptionMessage(c, true), qtp.SubscriptionMessage(c, false))
	}

	d := qtp.NewProtocolDescriptor(send...)
	switch w.cfg.timestamps {
	case format.TimestampsField, format.TimestampsMessage:
		d.SetProperty(qtp.PropertyTime, w.cfg.timestamps.String())
	}
	d.SetProperty(qtp.PropertyOpt, w.cfg.opt)

	return d
}

// closeFileLocked queues the close of the current files followed by the
// retention pass, which runs once both files reached their final path.
func (w *Writer) closeFileLocked(now int64) error {
	w.open = false

	var timesClosed <-chan struct{}
	if w.times != nil {
		done, err := w.times.CloseFile()
		if err != nil {
			return err
		}
		timesClosed = done
	}
	if _, err := w.data.CloseFile(); err != nil {
		return err
	}
	w.logger.Info("tape file closed", zap.String("path", RedactAddress(w.path)))

	if !w.split || (w.cfg.storageTime <= 0 && w.cfg.storageSize <= 0) {
		return nil
	}

	return w.data.Run(func() {
		if timesClosed != nil {
			<-timesClosed
		}
		w.applyRetention(now)
	})
}

// applyRetention deletes the oldest closed files beyond the storage limits.
// It runs on the data worker.
func (w *Writer) applyRetention(now int64) {
	files, err := ListTimestampedFiles(w.cfg.path)
	if err != nil {
		w.metrics.Errors.WithLabelValues("list").Inc()
		w.logger.Error("cannot list tape files", zap.Error(err))

		return
	}

	keep := len(files)
	if w.cfg.storageTime > 0 {
		cutoff := now - w.cfg.storageTime.Milliseconds()
		for i := 0; i+1 < len(files) && files[i+1].Time.UnixMilli() <= cutoff; i++ {
			keep = len(files) - i - 1
		}
	}
	if w.cfg.storageSize > 0 {
		var total int64
		for i := len(files) - 1; i >= len(files)-keep; i-- {
			total += files[i].Size + fileSize(TimeFilePath(files[i].Path))
			if total > w.cfg.storageSize {
				keep = len(files) - i - 1
				break
			}
		}
	}

	for _, f := range files[:len(files)-keep] {
		w.deleteFile(f)
	}
}

func (w *Writer) deleteFile(f TimestampedFile) {
	err := os.Remove(f.Path)
	if terr := os.Remove(TimeFilePath(f.Path)); terr != nil && !errors.Is(terr, os.ErrNotExist) {
		err = errors.Join(err, terr)
	}
	if err != nil {
		w.metrics.Errors.WithLabelValues("delete").Inc()
		w.logger.Error("cannot delete tape file", zap.String("path", RedactAddress(f.Path)), zap.Error(err))

		return
	}

	w.metrics.FilesDeleted.Inc()
	w.logger.Info("tape file deleted", zap.String("path", RedactAddress(f.Path)), zap.Time("time", f.Time))
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}

	return info.Size()
}

// Flush queues buffered bytes of both outputs for writing.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errs.ErrClosed
	}

	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	err := w.data.Flush()
	if w.times != nil {
		err = errors.Join(err, w.times.Flush())
	}

	return err
}

func (w *Writer) flushLoop() {
	defer w.flushers.Done()

	ticker := time.NewTicker(w.cfg.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick flushes and closes a split file that stayed open for too long
// without rotation.
func (w *Writer) tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || !w.open {
		return
	}
	if err := w.flushLocked(); err != nil {
		w.logger.Warn("flush failed", zap.Error(err))
	}

	if w.cfg.split <= 0 {
		return
	}
	idle := w.cfg.clock().Sub(w.openedAt)
	if idle < MaxOpenFactor*w.cfg.split {
		return
	}

	w.logger.Info("closing idle tape file", zap.String("path", RedactAddress(w.path)), zap.Duration("open_for", idle))
	if err := w.closeFileLocked(w.lastTime); err != nil {
		w.logger.Warn("cannot close idle file", zap.Error(err))
	}
}

// Close closes the current files and waits until they are written. It is
// safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.stop)

	var err error
	if w.open {
		now := w.lastTime
		if now == 0 {
			now = w.cfg.clock().UnixMilli()
		}
		err = w.closeFileLocked(now)
	}
	w.mu.Unlock()

	w.flushers.Wait()

	// the time file first: retention on the data worker may wait for it
	if w.times != nil {
		err = errors.Join(err, w.times.Close())
	}
	err = errors.Join(err, w.data.Close())
	if err != nil {
		return fmt.Errorf("close tape %s: %w", RedactAddress(w.cfg.path), err)
	}

	return nil
}

// HandleProtocol ignores stored protocol descriptions; files get their
// own header.
func (w *Writer) HandleProtocol(*qtp.ProtocolDescriptor) {}

// HandleDescribeRecords ignores record descriptions; the composer
// describes records before their first use in every file.
func (w *Writer) HandleDescribeRecords([]*record.Record) {}

func (w *Writer) HandleHeartbeat(hb qtp.Heartbeat) {
	w.logFailure("heartbeat", w.WriteHeartbeat(hb))
}

func (w *Writer) HandleData(c record.Contract, entries []record.Entry) {
	w.logFailure("data", w.WriteData(c, entries))
}

func (w *Writer) HandleSubscription(c record.Contract, add bool, entries []record.Entry) {
	w.logFailure("subscription", w.WriteSubscription(c, add, entries))
}

// ProcessData records a batch taken from a record processor.
func (w *Writer) ProcessData(c record.Contract, buf *record.Buffer) {
	w.HandleData(c, buf.Entries())
}

// ProcessSubscription records a batch taken from a subscription processor.
func (w *Writer) ProcessSubscription(c record.Contract, add bool, buf *record.Buffer) {
	w.HandleSubscription(c, add, buf.Entries())
}

func (w *Writer) logFailure(what string, err error) {
	if err != nil {
		w.logger.Error("cannot record message", zap.String("message", what), zap.Error(err))
	}
}
