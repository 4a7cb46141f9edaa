package tape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/devexperts/QD-sub012/compress"
	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/internal/metrics"
	"github.com/devexperts/QD-sub012/internal/pool"
	"github.com/devexperts/QD-sub012/qtp"
)

// State is the lifecycle state of a Reader.
type State int32

const (
	StateInit State = iota
	StateOpeningFiles
	StateProcessing
	StateStopped
	StateAwaitingMoreFiles
	StateCycling
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateOpeningFiles:
		return "opening-files"
	case StateProcessing:
		return "processing"
	case StateStopped:
		return "stopped"
	case StateAwaitingMoreFiles:
		return "awaiting-more-files"
	case StateCycling:
		return "cycling"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// fileResult tells the session loop how reading one file ended.
type fileResult uint8

const (
	fileDone fileResult = iota
	fileStopped
	fileClosed
	fileFailed
)

// Reader replays a tape into a qtp.MessageConsumer, pacing delivery by the
// recorded times.
//
// Reading happens on one goroutine, either started by Start or the caller
// of Read. Close may be called from any goroutine, including the consumer.
type Reader struct {
	cfg      *config
	consumer qtp.MessageConsumer
	logger   *zap.Logger
	metrics  *metrics.Reader

	state   atomic.Int32
	started atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
	finished  chan struct{}
	err       error

	session session
}

// session is the pacing and timing state of one pass over the tape.
type session struct {
	baselined bool
	wall0     time.Time
	virt0     int64

	now       int64
	haveTime  bool
	timeField bool
	delivered int
}

// NewReader creates a reader of address delivering to consumer.
func NewReader(address string, consumer qtp.MessageConsumer, opts ...Option) (*Reader, error) {
	if consumer == nil {
		return nil, fmt.Errorf("%w: nil consumer", errs.ErrInvalidArgument)
	}

	cfg, err := loadConfig(roleReader, address, readerKeys, opts)
	if err != nil {
		return nil, err
	}

	return &Reader{
		cfg:      cfg,
		consumer: consumer,
		logger:   cfg.logger.With(zap.String("tape", RedactAddress(cfg.path))),
		metrics:  cfg.readMetrics(),
		closed:   make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

// State returns the current state.
func (r *Reader) State() State {
	return State(r.state.Load())
}

func (r *Reader) setState(s State) {
	r.state.Store(int32(s))
}

// Start reads the tape on a new goroutine.
func (r *Reader) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: reader already started", errs.ErrInvalidState)
	}

	go func() {
		r.err = r.run(context.Background())
		close(r.finished)
	}()

	return nil
}

// Wait blocks until reading started by Start ends and returns its error.
func (r *Reader) Wait() error {
	if !r.started.Load() {
		return fmt.Errorf("%w: reader not started", errs.ErrInvalidState)
	}
	<-r.finished

	return r.err
}

// Read reads the tape on the calling goroutine until it ends, the reader
// is closed or ctx is done.
func (r *Reader) Read(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: reader already started", errs.ErrInvalidState)
	}

	r.err = r.run(ctx)
	close(r.finished)

	return r.err
}

// Close stops reading at the next blocking point. It does not wait for the
// reading goroutine; use Wait for that. Close is idempotent.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		if !r.started.Load() {
			r.setState(StateClosed)
		}
	})

	return nil
}

func (r *Reader) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

func (r *Reader) run(ctx context.Context) error {
	defer r.setState(StateClosed)

	if r.isClosed() {
		return nil
	}
	r.logger.Info("tape reading started",
		zap.Float64("speed", r.cfg.speed),
		zap.Time("start", r.cfg.start),
		zap.Time("stop", r.cfg.stop),
		zap.Bool("cycle", r.cfg.cycle),
	)

	for {
		r.session = session{}
		stopped, err := r.readSession(ctx)
		if err != nil || r.isClosed() || ctx.Err() != nil {
			return r.finish(ctx, err)
		}
		if stopped {
			r.setState(StateStopped)
			return r.finish(ctx, nil)
		}
		if !r.cfg.cycle {
			return r.finish(ctx, nil)
		}

		r.setState(StateCycling)
		r.logger.Info("tape cycle completed", zap.Int("messages", r.session.delivered))
		if r.session.delivered == 0 {
			if err := r.sleep(ctx, r.cfg.poll); err != nil {
				return r.finish(ctx, nil)
			}
		}
	}
}

func (r *Reader) finish(ctx context.Context, err error) error {
	if err == nil && !r.isClosed() {
		err = ctx.Err()
	}
	if err != nil {
		r.logger.Error("tape reading failed", zap.Error(err))
		return err
	}
	r.logger.Info("tape reading finished")

	return nil
}

// readSession reads every file once. It reports whether the stop time was
// reached.
func (r *Reader) readSession(ctx context.Context) (bool, error) {
	split := IsSplitPath(r.cfg.path)
	tolerant := split || r.cfg.cycle

	if !split {
		res, err := r.readFile(ctx, r.cfg.path)
		return r.settle(res, err, r.cfg.path, tolerant)
	}

	var last *TimestampedFile
	for {
		if r.isClosed() {
			return false, nil
		}

		next, err := r.nextFile(last)
		if err != nil {
			if !tolerant {
				return false, err
			}
			r.logger.Error("cannot list tape files", zap.Error(err))
		}

		if next == nil {
			if !r.awaitingMoreFiles() {
				return false, nil
			}
			r.setState(StateAwaitingMoreFiles)
			if err := r.sleep(ctx, r.cfg.poll); err != nil {
				return false, nil
			}

			continue
		}

		last = next
		res, err := r.readFile(ctx, next.Path)
		stopped, err := r.settle(res, err, next.Path, tolerant)
		if err != nil || stopped || res == fileClosed {
			return stopped, err
		}
	}
}

// settle maps the result of one file to the session outcome. A failed file
// ends the session unless it is tolerant.
func (r *Reader) settle(res fileResult, err error, path string, tolerant bool) (bool, error) {
	switch res {
	case fileStopped:
		return true, nil
	case fileFailed:
		r.metrics.Corruptions.WithLabelValues("abandoned").Inc()
		if !tolerant {
			return false, err
		}
		r.logger.Error("tape file abandoned", zap.String("path", RedactAddress(path)), zap.Error(err))
	}

	return false, nil
}

// nextFile lists the split files again and returns the first one after
// last, or the file containing start when nothing was read yet.
func (r *Reader) nextFile(last *TimestampedFile) (*TimestampedFile, error) {
	files, err := ListTimestampedFiles(r.cfg.path)
	if err != nil {
		return nil, err
	}

	if last == nil {
		if len(files) == 0 {
			return nil, nil
		}
		i := 0
		if !r.cfg.start.IsZero() {
			for j := range files {
				if files[j].Time.After(r.cfg.start) {
					break
				}
				i = j
			}
		}

		return &files[i], nil
	}

	for i := range files {
		if files[i].Time.After(last.Time) {
			return &files[i], nil
		}
	}

	return nil, nil
}

// awaitingMoreFiles reports whether a split tape may still grow: the stop
// time lies ahead of the paced virtual time.
func (r *Reader) awaitingMoreFiles() bool {
	if r.cfg.stop.IsZero() || math.IsInf(r.cfg.speed, 1) {
		return false
	}
	s := &r.session
	if !s.baselined {
		return r.cfg.clock().Before(r.cfg.stop)
	}

	elapsed := float64(r.cfg.clock().Sub(s.wall0).Milliseconds()) * r.cfg.speed
	virtualNow := s.virt0 + int64(elapsed)

	return virtualNow < r.cfg.stop.UnixMilli()
}

func (r *Reader) readFile(ctx context.Context, path string) (fileResult, error) {
	r.setState(StateOpeningFiles)

	file, err := os.Open(path)
	if err != nil {
		return fileFailed, fmt.Errorf("open %s: %w", RedactAddress(path), err)
	}
	defer file.Close()

	src, compression, err := r.decompress(file)
	if err != nil {
		return fileFailed, fmt.Errorf("open %s: %w", RedactAddress(path), err)
	}
	defer src.Close()

	index, closeIndex := r.openIndex(path)
	defer closeIndex()

	r.metrics.FilesOpened.Inc()
	r.logger.Info("tape file opened",
		zap.String("path", RedactAddress(path)),
		zap.Stringer("compression", compression),
		zap.Bool("time_index", index != nil),
	)

	r.setState(StateProcessing)
	r.session.timeField = false

	chunk := pool.GetChunkBuffer()
	defer pool.PutChunkBuffer(chunk)
	buf := chunk.B[:cap(chunk.B)]

	var parser qtp.Parser
	for {
		if r.isClosed() {
			return fileClosed, nil
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if parser == nil {
				if parser, err = r.newParser(buf[:n]); err != nil {
					return fileFailed, err
				}
			}
			parser.Feed(buf[:n])

			if res, err := r.drain(ctx, parser, index); res != fileDone || err != nil {
				return res, err
			}
		}

		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return fileFailed, fmt.Errorf("read %s: %w", RedactAddress(path), rerr)
		}
	}

	if parser != nil && parser.Pending() > 0 {
		parser.Finish()
		if res, err := r.drain(ctx, parser, index); res != fileDone || err != nil {
			return res, err
		}
	}
	if parser != nil && parser.Pending() > 0 {
		r.logger.Warn("tape file ends inside a message",
			zap.String("path", RedactAddress(path)),
			zap.Int("bytes", parser.Pending()),
		)
	}

	return fileDone, nil
}

func (r *Reader) decompress(file *os.File) (io.ReadCloser, format.CompressionType, error) {
	if r.cfg.compression == 0 {
		return compress.NewDetectingReader(file)
	}

	codec, err := compress.GetCodec(r.cfg.compression)
	if err != nil {
		return nil, 0, err
	}
	src, err := codec.NewReader(file)

	return src, r.cfg.compression, err
}

// openIndex opens the .time file of path when times come from one.
func (r *Reader) openIndex(path string) (*timeIndex, func()) {
	nop := func() {}
	ts := r.cfg.timestamps
	if ts != 0 && !ts.UsesTimeFile() {
		return nil, nop
	}

	f, err := os.Open(TimeFilePath(path))
	if err != nil {
		if ts != 0 || !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("cannot open time index", zap.String("path", RedactAddress(path)), zap.Error(err))
		}
		return nil, nop
	}

	return newTimeIndex(f), func() { _ = f.Close() }
}

func (r *Reader) newParser(head []byte) (qtp.Parser, error) {
	f := r.cfg.format
	if f.IsZero() {
		f = qtp.DetectFormat(head)
	}

	opts := []qtp.ParserOption{
		qtp.WithSchemeKnown(r.cfg.schemeKnown),
		qtp.WithParserTimeField(r.cfg.timestamps == format.TimestampsField),
	}
	if r.cfg.scheme != nil {
		opts = append(opts, qtp.WithScheme(r.cfg.scheme))
	}
	if r.cfg.resync {
		opts = append(opts, qtp.WithResyncOn(r.cfg.resyncOn))
	}

	return qtp.NewParser(f, opts...)
}

func (r *Reader) drain(ctx context.Context, p qtp.Parser, index *timeIndex) (fileResult, error) {
	for {
		res := p.Next()
		switch res.Outcome {
		case qtp.NeedMore:
			return fileDone, nil
		case qtp.Resynced:
			r.metrics.Corruptions.WithLabelValues("resynced").Inc()
			r.logger.Warn("corrupted tape data skipped", zap.Error(res.Err))
		case qtp.Fatal:
			return fileFailed, res.Err
		case qtp.Parsed:
			if out, err := r.process(ctx, &res.Message, index); out != fileDone || err != nil {
				return out, err
			}
		}
	}
}

// process times one message and delivers it unless it lies before start.
// The first message at or after stop ends reading once its time is reached.
func (r *Reader) process(ctx context.Context, m *qtp.Message, index *timeIndex) (fileResult, error) {
	s := &r.session

	if m.Type == qtp.MessageDescribeProtocol && m.Protocol != nil {
		s.timeField = m.Protocol.Property(qtp.PropertyTime) == format.TimestampsField.String()
	}

	t, ok, err := r.messageTime(m, index)
	if err != nil {
		return fileFailed, err
	}
	if ok {
		s.now, s.haveTime = t, true
	}

	if (m.Type.IsData() || m.Type.IsSubscription()) && s.haveTime {
		if !r.cfg.start.IsZero() && s.now < r.cfg.start.UnixMilli() {
			r.metrics.MessagesSkipped.Inc()
			return fileDone, nil
		}
		if !r.cfg.stop.IsZero() && s.now >= r.cfg.stop.UnixMilli() {
			if err := r.pace(ctx, r.cfg.stop.UnixMilli()); err != nil {
				return fileClosed, nil
			}
			r.logger.Info("tape stop time reached", zap.Time("stop", r.cfg.stop))

			return fileStopped, nil
		}
		if err := r.pace(ctx, s.now); err != nil {
			return fileClosed, nil
		}
	}

	qtp.Deliver(r.consumer, m)
	r.metrics.MessagesRead.Inc()
	s.delivered++

	return fileDone, nil
}

// messageTime returns the recorded time of m from the time index, a
// heartbeat or the event time of its first entry.
func (r *Reader) messageTime(m *qtp.Message, index *timeIndex) (int64, bool, error) {
	ts := r.cfg.timestamps
	switch {
	case ts == format.TimestampsNone:
		return 0, false, nil
	case index != nil:
		return index.timeAt(m.Position)
	case m.Type == qtp.MessageHeartbeat && (ts == 0 || ts == format.TimestampsMessage):
		return m.Heartbeat.TimeMillis, m.Heartbeat.HasTime, nil
	case m.Type.IsData() && len(m.Entries) > 0 &&
		(ts == format.TimestampsField || ts == 0 && r.session.timeField):
		t := m.Entries[0].EventTime
		return t, t != 0, nil
	default:
		return 0, false, nil
	}
}

// pace sleeps until the wall time of virtual time t. The first call of a
// session sets the baseline.
func (r *Reader) pace(ctx context.Context, t int64) error {
	if math.IsInf(r.cfg.speed, 1) {
		return r.interrupted(ctx)
	}

	s := &r.session
	if !s.baselined {
		s.baselined = true
		s.wall0 = r.cfg.clock()
		switch {
		case r.cfg.hasDelay:
			s.virt0 = s.wall0.Add(-r.cfg.delay).UnixMilli()
		case !r.cfg.start.IsZero():
			s.virt0 = r.cfg.start.UnixMilli()
		default:
			s.virt0 = t
		}
	}

	offset := time.Duration(float64(t-s.virt0) / r.cfg.speed * float64(time.Millisecond))
	wait := s.wall0.Add(offset).Sub(r.cfg.clock())
	if wait <= 0 {
		return r.interrupted(ctx)
	}

	return r.sleep(ctx, wait)
}

func (r *Reader) interrupted(ctx context.Context) error {
	if r.isClosed() {
		return errs.ErrClosed
	}

	return ctx.Err()
}

func (r *Reader) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-r.closed:
		return errs.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
