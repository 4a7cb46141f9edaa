package tape

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/internal/logger"
	"github.com/devexperts/QD-sub012/internal/metrics"
	"github.com/devexperts/QD-sub012/internal/options"
	"github.com/devexperts/QD-sub012/internal/pool"
	"github.com/devexperts/QD-sub012/qtp"
	"github.com/devexperts/QD-sub012/record"
)

const (
	DefaultPoll          = time.Second
	DefaultFlushInterval = time.Second
	DefaultQueueDepth    = 16

	// MaxOpenFactor bounds how long a split file stays open without rotation,
	// in split intervals.
	MaxOpenFactor = 2
)

type role uint8

const (
	roleReader role = iota + 1
	roleWriter
	roleParallel
)

// config holds the settings of readers, writers and parallel writers. Each
// component validates only the part it uses.
type config struct {
	role role
	path string

	format      format.FileFormat
	compression format.CompressionType
	timestamps  format.TimestampsType

	start, stop         time.Time
	startText, stopText string
	delay               time.Duration
	hasDelay            bool
	speed               float64
	cycle               bool
	resyncOn            qtp.MessageType
	resync              bool
	schemeKnown         bool
	poll                time.Duration
	scheme              *record.Scheme

	split         time.Duration
	storageTime   time.Duration
	storageSize   int64
	tmpDir        string
	opt           string
	flushInterval time.Duration
	queueDepth    int
	chunkSize     int

	logger        *zap.Logger
	readerMetrics *metrics.Reader
	writerMetrics *metrics.Writer
	clock         func() time.Time
	location      *time.Location
}

// Option configures a Reader, Writer or ParallelWriter.
type Option = options.Option[*config]

func newConfig(r role) *config {
	return &config{
		role:          r,
		speed:         1,
		poll:          DefaultPoll,
		flushInterval: DefaultFlushInterval,
		queueDepth:    DefaultQueueDepth,
		chunkSize:     pool.ChunkBufferDefaultSize,
		logger:        zap.NewNop(),
		clock:         time.Now,
		location:      time.Local,
	}
}

// loadConfig parses address, applies its properties with keys and then
// opts, and validates the result.
func loadConfig(r role, address string, keys map[string]setter, opts []Option) (*config, error) {
	path, props, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}

	cfg := newConfig(r)
	cfg.path = path
	for _, p := range props {
		set, ok := keys[strings.ToLower(p.Key)]
		if !ok {
			return nil, fmt.Errorf("%w: unknown property %q in %q", errs.ErrInvalidArgument, p.Key, RedactAddress(address))
		}
		if err := set(cfg, p.Value); err != nil {
			return nil, fmt.Errorf("property %s: %w", p.Key, err)
		}
	}

	if err := options.ApplyAndValidate(cfg, opts...); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate resolves textual times and rejects conflicting settings.
func (c *config) Validate() error {
	now := c.clock()
	var err error
	if c.start.IsZero() && c.startText != "" {
		if c.start, err = ParseTime(c.startText, now, c.location); err != nil {
			return err
		}
	}
	if c.stop.IsZero() && c.stopText != "" {
		if c.stop, err = ParseTime(c.stopText, now, c.location); err != nil {
			return err
		}
	}

	switch c.role {
	case roleReader:
		return c.validateReader()
	case roleWriter:
		return c.validateWriter()
	default:
		return nil
	}
}

func (c *config) validateReader() error {
	if !c.start.IsZero() && c.hasDelay {
		return fmt.Errorf("%w: start and delay cannot be used together", errs.ErrInvalidArgument)
	}
	if !c.start.IsZero() && !c.stop.IsZero() && !c.stop.After(c.start) {
		return fmt.Errorf("%w: stop %s is not after start %s", errs.ErrInvalidArgument, c.stop, c.start)
	}
	if c.speed <= 0 || math.IsNaN(c.speed) {
		return fmt.Errorf("%w: speed must be positive, got %v", errs.ErrInvalidArgument, c.speed)
	}
	if c.poll <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", errs.ErrInvalidArgument)
	}
	if IsSplitPath(c.path) {
		return checkSplitPath(c.path)
	}

	return nil
}

func (c *config) validateWriter() error {
	split := IsSplitPath(c.path)
	if c.split > 0 && !split {
		return fmt.Errorf("%w: split requires a %q marker in %q", errs.ErrInvalidArgument, SplitMarker, RedactAddress(c.path))
	}
	if (c.storageTime > 0 || c.storageSize > 0) && !split {
		return fmt.Errorf("%w: storage limits require a %q marker in %q", errs.ErrInvalidArgument, SplitMarker, RedactAddress(c.path))
	}
	if split {
		if err := checkSplitPath(c.path); err != nil {
			return err
		}
	}
	if c.split < 0 || c.storageTime < 0 || c.storageSize < 0 {
		return fmt.Errorf("%w: negative split or storage limit", errs.ErrInvalidArgument)
	}
	if c.format.IsZero() {
		c.format = format.Binary
	}
	if c.compression == 0 {
		c.compression = format.CompressionFromPath(c.path)
	}
	if c.timestamps == 0 {
		c.timestamps = c.format.DefaultTimestamps()
	}
	if c.timestamps == format.TimestampsMessage && !c.format.HasProtocolHeader() {
		return fmt.Errorf("%w: %s format cannot carry heartbeat times", errs.ErrInvalidArgument, c.format)
	}
	if c.flushInterval <= 0 {
		return fmt.Errorf("%w: flush interval must be positive", errs.ErrInvalidArgument)
	}

	return nil
}

// parallelOptions passes the writer settings on to its parallel writers.
func (c *config) parallelOptions() []Option {
	return []Option{
		WithLogger(c.logger),
		WithWriterMetrics(c.writerMetrics),
		WithQueueDepth(c.queueDepth),
		WithChunkSize(c.chunkSize),
	}
}

func (c *config) writeMetrics() *metrics.Writer {
	if c.writerMetrics == nil {
		c.writerMetrics = metrics.NewWriter()
	}

	return c.writerMetrics
}

func (c *config) readMetrics() *metrics.Reader {
	if c.readerMetrics == nil {
		c.readerMetrics = metrics.NewReader()
	}

	return c.readerMetrics
}

type setter func(c *config, value string) error

var commonKeys = map[string]setter{
	"format": func(c *config, v string) (err error) {
		c.format, err = format.ParseFileFormat(v)
		return err
	},
	"compression": func(c *config, v string) (err error) {
		c.compression, err = format.ParseCompressionType(v)
		return err
	},
	"time": func(c *config, v string) (err error) {
		c.timestamps, err = format.ParseTimestampsType(v)
		return err
	},
}

var readerKeys = withCommon(map[string]setter{
	"start": func(c *config, v string) error {
		c.startText = v
		return nil
	},
	"stop": func(c *config, v string) error {
		c.stopText = v
		return nil
	},
	"delay": func(c *config, v string) (err error) {
		c.delay, err = ParseDuration(v)
		c.hasDelay = err == nil

		return err
	},
	"speed": func(c *config, v string) error {
		if strings.EqualFold(v, "max") {
			c.speed = math.Inf(1)
			return nil
		}
		s, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: speed %q", errs.ErrInvalidArgument, v)
		}
		c.speed = s

		return nil
	},
	"cycle": func(c *config, v string) (err error) {
		c.cycle, err = parseBool(v)
		return err
	},
	"resyncon": func(c *config, v string) error {
		t, err := qtp.ParseMessageType(v)
		if err != nil {
			return err
		}
		c.resyncOn, c.resync = t, true

		return nil
	},
	"schemeknown": func(c *config, v string) (err error) {
		c.schemeKnown, err = parseBool(v)
		return err
	},
	"poll": func(c *config, v string) (err error) {
		c.poll, err = ParseDuration(v)
		return err
	},
})

var writerKeys = withCommon(map[string]setter{
	"split": func(c *config, v string) (err error) {
		c.split, err = ParseDuration(v)
		return err
	},
	"storagetime": func(c *config, v string) (err error) {
		c.storageTime, err = ParseDuration(v)
		return err
	},
	"storagesize": func(c *config, v string) (err error) {
		c.storageSize, err = ParseSize(v)
		return err
	},
	"tmpdir": func(c *config, v string) error {
		c.tmpDir = v
		return nil
	},
	"opt": func(c *config, v string) error {
		c.opt = v
		return nil
	},
})

func withCommon(keys map[string]setter) map[string]setter {
	for k, v := range commonKeys {
		keys[k] = v
	}

	return keys
}

func parseBool(v string) (bool, error) {
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: boolean %q", errs.ErrInvalidArgument, v)
	}

	return b, nil
}

// WithFormat sets the file format. Readers autodetect it when unset.
func WithFormat(f format.FileFormat) Option {
	return options.NoError(func(c *config) {
		c.format = f
	})
}

// WithCompression sets the compression. Readers detect it from file
// headers and writers from the file extension when unset.
func WithCompression(t format.CompressionType) Option {
	return options.NoError(func(c *config) {
		c.compression = t
	})
}

// WithTimestamps sets how message times are recorded.
func WithTimestamps(t format.TimestampsType) Option {
	return options.NoError(func(c *config) {
		c.timestamps = t
	})
}

// WithStart skips messages recorded before t.
func WithStart(t time.Time) Option {
	return options.NoError(func(c *config) {
		c.start = t
	})
}

// WithStop ends reading at the first message recorded at or after t.
func WithStop(t time.Time) Option {
	return options.NoError(func(c *config) {
		c.stop = t
	})
}

// WithDelay replays the tape as if it was recorded d ago.
func WithDelay(d time.Duration) Option {
	return options.NoError(func(c *config) {
		c.delay, c.hasDelay = d, true
	})
}

// WithSpeed sets the replay speed factor; math.Inf(1) reads at full speed.
func WithSpeed(speed float64) Option {
	return options.NoError(func(c *config) {
		c.speed = speed
	})
}

// WithCycle restarts reading from the first file after the last one.
func WithCycle(enabled bool) Option {
	return options.NoError(func(c *config) {
		c.cycle = enabled
	})
}

// WithResyncOn recovers corrupted binary files at the next message of type t.
func WithResyncOn(t qtp.MessageType) Option {
	return options.New(func(c *config) error {
		if !t.Known() {
			return fmt.Errorf("%w: cannot resync on %s", errs.ErrInvalidArgument, t)
		}
		c.resyncOn, c.resync = t, true

		return nil
	})
}

// WithSchemeKnown ignores record descriptions stored in files.
func WithSchemeKnown(known bool) Option {
	return options.NoError(func(c *config) {
		c.schemeKnown = known
	})
}

// WithPoll sets how often a split tape is listed again for new files.
func WithPoll(d time.Duration) Option {
	return options.NoError(func(c *config) {
		c.poll = d
	})
}

// WithScheme sets the records files are resolved against.
func WithScheme(s *record.Scheme) Option {
	return options.NoError(func(c *config) {
		c.scheme = s
	})
}

// WithSplit rotates split files every d.
func WithSplit(d time.Duration) Option {
	return options.NoError(func(c *config) {
		c.split = d
	})
}

// WithStorageTime deletes split files older than d.
func WithStorageTime(d time.Duration) Option {
	return options.NoError(func(c *config) {
		c.storageTime = d
	})
}

// WithStorageSize deletes the oldest split files beyond n bytes in total.
func WithStorageSize(n int64) Option {
	return options.NoError(func(c *config) {
		c.storageSize = n
	})
}

// WithTmpDir writes files in dir and moves them to their final path on close.
func WithTmpDir(dir string) Option {
	return options.NoError(func(c *config) {
		c.tmpDir = dir
	})
}

// WithOpt sets the "opt" property announced in file headers.
func WithOpt(opt string) Option {
	return options.NoError(func(c *config) {
		c.opt = opt
	})
}

// WithFlushInterval sets the period of the writer's flush loop.
func WithFlushInterval(d time.Duration) Option {
	return options.NoError(func(c *config) {
		c.flushInterval = d
	})
}

// WithQueueDepth bounds the task queue of parallel writers.
func WithQueueDepth(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: queue depth %d", errs.ErrInvalidArgument, n)
		}
		c.queueDepth = n

		return nil
	})
}

// WithChunkSize sets how many bytes parallel writers buffer per write task.
func WithChunkSize(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: chunk size %d", errs.ErrInvalidArgument, n)
		}
		c.chunkSize = n

		return nil
	})
}

// WithLogger sets the logger; nil disables logging.
func WithLogger(l *zap.Logger) Option {
	return options.NoError(func(c *config) {
		c.logger = logger.OrNop(l)
	})
}

// WithReaderMetrics sets the collectors a Reader updates.
func WithReaderMetrics(m *metrics.Reader) Option {
	return options.NoError(func(c *config) {
		c.readerMetrics = m
	})
}

// WithWriterMetrics sets the collectors a Writer and its parallel writers
// update.
func WithWriterMetrics(m *metrics.Writer) Option {
	return options.NoError(func(c *config) {
		c.writerMetrics = m
	})
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return options.NoError(func(c *config) {
		if now != nil {
			c.clock = now
		}
	})
}

// WithLocation sets the zone of file names and textual times.
func WithLocation(loc *time.Location) Option {
	return options.NoError(func(c *config) {
		if loc != nil {
			c.location = loc
		}
	})
}
