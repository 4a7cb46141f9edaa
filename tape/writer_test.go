package tape

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/internal/metrics"
	"github.com/devexperts/QD-sub012/qtp"
	"github.com/devexperts/QD-sub012/record"
)

const t0 = int64(1_700_000_000_000)

func beat(millis int64) qtp.Heartbeat {
	return qtp.Heartbeat{TimeMillis: millis, HasTime: true}
}

func newTestWriter(t *testing.T, address string, opts ...Option) (*Writer, *metrics.Writer) {
	t.Helper()

	m := metrics.NewWriter()
	opts = append([]Option{
		WithLogger(zaptest.NewLogger(t)),
		WithWriterMetrics(m),
		WithLocation(time.UTC),
	}, opts...)
	w, err := NewWriter(address, opts...)
	require.NoError(t, err)

	return w, m
}

func readAll(t *testing.T, address string, opts ...Option) *collector {
	t.Helper()

	c := &collector{}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithSpeed(math.Inf(1))}, opts...)
	r, err := NewReader(address, c, opts...)
	require.NoError(t, err)
	require.NoError(t, r.Read(context.Background()))

	return c
}

// writeSeconds writes one heartbeat and one quote batch per second starting
// at t0.
func writeSeconds(t *testing.T, w *Writer, n int) {
	t.Helper()

	for i := range n {
		require.NoError(t, w.WriteHeartbeat(beat(t0+int64(i)*1000)))
		require.NoError(t, w.WriteData(record.Ticker, []record.Entry{
			quote("IBM", "101.25", "101.5"),
			quote("MSFT", "415", "415.75"),
		}))
	}
}

func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tape.qds")
	w, m := newTestWriter(t, path)

	require.NoError(t, w.WriteHeartbeat(beat(t0)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1.5", "2.5")}))
	require.NoError(t, w.WriteSubscription(record.Ticker, true, []record.Entry{quote("AAPL", "0", "0")}))
	require.NoError(t, w.WriteHeartbeat(beat(t0+250)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("MSFT", "3", "4")}))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	require.ElementsMatch(t, []string{"tape.qds", "tape.time"}, listDir(t, dir))
	require.InDelta(t, 1, testutil.ToFloat64(m.FilesOpened), 0)

	index, err := os.ReadFile(filepath.Join(dir, "tape.time"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(index)), "\n")
	require.Len(t, lines, 2, "one line per distinct time")
	first, err := ParseTimeLine(lines[0])
	require.NoError(t, err)
	require.Equal(t, t0, first.Time)
	second, err := ParseTimeLine(lines[1])
	require.NoError(t, err)
	require.Equal(t, t0+250, second.Time)
	require.Greater(t, second.Position, first.Position)

	c := readAll(t, path)
	require.Equal(t, []string{"IBM", "MSFT"}, c.dataSymbols())

	var subs []string
	for _, d := range c.got {
		if d.typ.IsSubscription() {
			subs = append(subs, d.symbols...)
		}
	}
	require.Equal(t, []string{"AAPL"}, subs)

	require.ErrorIs(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1", "2")}), errs.ErrClosed)
}

func TestWriter_RotatesSplitFiles(t *testing.T) {
	dir := t.TempDir()
	w, m := newTestWriter(t, filepath.Join(dir, "tape-~.qds[split=1s]"))

	writeSeconds(t, w, 3)
	require.NoError(t, w.Close())

	var want []string
	for i := range int64(3) {
		data := splitName(dir, "tape-", t0+i*1000, ".qds")
		want = append(want, filepath.Base(data), filepath.Base(TimeFilePath(data)))
	}
	require.ElementsMatch(t, want, listDir(t, dir))
	require.InDelta(t, 3, testutil.ToFloat64(m.FilesOpened), 0)

	c := readAll(t, filepath.Join(dir, "tape-~.qds"))
	require.Len(t, c.data(), 3)
	require.Equal(t, []string{"IBM", "MSFT", "IBM", "MSFT", "IBM", "MSFT"}, c.dataSymbols())
}

func TestWriter_SplitBoundariesAreAligned(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, filepath.Join(dir, "tape-~.qds[split=1s]"))

	// 600ms in, the next boundary is 400ms away
	require.NoError(t, w.WriteHeartbeat(beat(t0+600)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1", "2")}))
	require.NoError(t, w.WriteHeartbeat(beat(t0+999)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1", "2")}))
	require.NoError(t, w.WriteHeartbeat(beat(t0+1000)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1", "2")}))
	require.NoError(t, w.Close())

	files, err := ListTimestampedFiles(filepath.Join(dir, "tape-~.qds"))
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, t0/1000*1000, files[0].Time.UnixMilli())
	require.Equal(t, t0+1000, files[1].Time.UnixMilli())
}

func TestWriter_TmpDir(t *testing.T) {
	dir, tmp := t.TempDir(), t.TempDir()
	w, _ := newTestWriter(t, filepath.Join(dir, "tape-~.qds.gz[split=1s,tmpDir="+tmp+"]"))

	require.NoError(t, w.WriteHeartbeat(beat(t0)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1", "2")}))
	require.NoError(t, w.Flush())
	require.Empty(t, listDir(t, dir), "nothing appears at the final path while the file is open")

	require.NoError(t, w.WriteHeartbeat(beat(t0+1000)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("MSFT", "1", "2")}))
	require.NoError(t, w.Close())

	require.Empty(t, listDir(t, tmp))
	require.Len(t, listDir(t, dir), 4)

	c := readAll(t, filepath.Join(dir, "tape-~.qds.gz"))
	require.Equal(t, []string{"IBM", "MSFT"}, c.dataSymbols())
}

func TestWriter_StorageSize(t *testing.T) {
	// one file of the same content measures the size of every split file
	probeDir := t.TempDir()
	probe, _ := newTestWriter(t, filepath.Join(probeDir, "tape-~.qds[split=1s]"))
	writeSeconds(t, probe, 1)
	require.NoError(t, probe.Close())

	var fileSize int64
	for _, name := range listDir(t, probeDir) {
		info, err := os.Stat(filepath.Join(probeDir, name))
		require.NoError(t, err)
		fileSize += info.Size()
	}
	require.Positive(t, fileSize)

	dir := t.TempDir()
	limit := 2*fileSize + fileSize/2
	w, m := newTestWriter(t, filepath.Join(dir, "tape-~.qds[split=1s]"), WithStorageSize(limit))
	writeSeconds(t, w, 6)
	require.NoError(t, w.Close())

	var total int64
	for _, name := range listDir(t, dir) {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		total += info.Size()
	}
	require.LessOrEqual(t, total, limit)

	want := []string{}
	for _, i := range []int64{4, 5} {
		data := splitName(dir, "tape-", t0+i*1000, ".qds")
		want = append(want, filepath.Base(data), filepath.Base(TimeFilePath(data)))
	}
	require.ElementsMatch(t, want, listDir(t, dir), "the oldest files go first, together with their time index")
	require.InDelta(t, 4, testutil.ToFloat64(m.FilesDeleted), 0)
}

func TestWriter_StorageTime(t *testing.T) {
	dir := t.TempDir()
	w, _ := newTestWriter(t, filepath.Join(dir, "tape-~.qds[split=1s,storagetime=2s]"))
	writeSeconds(t, w, 10)
	require.NoError(t, w.Close())

	files, err := ListTimestampedFiles(filepath.Join(dir, "tape-~.qds"))
	require.NoError(t, err)

	var kept []int64
	for _, f := range files {
		kept = append(kept, (f.Time.UnixMilli()-t0)/1000)
		_, err := os.Stat(TimeFilePath(f.Path))
		require.NoError(t, err)
	}
	require.Equal(t, []int64{7, 8, 9}, kept)
	require.Len(t, listDir(t, dir), 6, "no orphaned time files")
}

func TestWriter_ClosesIdleFile(t *testing.T) {
	var now atomic.Int64
	now.Store(t0)
	clock := func() time.Time { return time.UnixMilli(now.Load()) }

	dir := t.TempDir()
	w, _ := newTestWriter(t, filepath.Join(dir, "tape-~.qds[split=1s]"),
		WithClock(clock), WithFlushInterval(10*time.Millisecond))

	require.NoError(t, w.WriteHeartbeat(beat(t0)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1", "2")}))

	isOpen := func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.open
	}
	require.True(t, isOpen())

	now.Add(3000)
	require.Eventually(t, func() bool { return !isOpen() }, 5*time.Second, 10*time.Millisecond)

	// a late message for the same second reopens under a fresh name
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("MSFT", "1", "2")}))
	require.NoError(t, w.Close())

	files, err := ListTimestampedFiles(filepath.Join(dir, "tape-~.qds"))
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, t0, files[0].Time.UnixMilli())
	require.Equal(t, t0+1000, files[1].Time.UnixMilli())

	c := readAll(t, filepath.Join(dir, "tape-~.qds"))
	require.Equal(t, []string{"IBM", "MSFT"}, c.dataSymbols())
}

func TestWriter_TextFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tape.txt")
	w, _ := newTestWriter(t, path+"[format=text]")

	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1.5", "2.5"), quote("MSFT", "3", "4")}))
	require.NoError(t, w.Close())

	require.Equal(t, []string{"tape.txt"}, listDir(t, dir), "text tapes carry no time index by default")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "IBM")
	require.Contains(t, string(raw), "2.5")

	c := readAll(t, path)
	require.Equal(t, []string{"IBM", "MSFT"}, c.dataSymbols())
}

func TestWriter_MessageTimestamps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tape.qds")
	w, _ := newTestWriter(t, path+"[time=message]")

	require.NoError(t, w.WriteHeartbeat(beat(t0)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("IBM", "1", "2")}))
	require.NoError(t, w.WriteHeartbeat(beat(t0+500)))
	require.NoError(t, w.WriteData(record.Ticker, []record.Entry{quote("MSFT", "1", "2")}))
	require.NoError(t, w.Close())

	require.Equal(t, []string{"tape.qds"}, listDir(t, dir))

	c := readAll(t, path)
	var beats []int64
	for _, d := range c.got {
		if d.typ == qtp.MessageHeartbeat {
			beats = append(beats, d.hb.TimeMillis)
		}
	}
	require.Equal(t, []int64{t0, t0 + 500}, beats)
	require.Equal(t, []string{"IBM", "MSFT"}, c.dataSymbols())
}

func TestWriter_CopiesTape(t *testing.T) {
	dir := t.TempDir()
	src := newTapeBuilder(t).
		quotes(t0, "IBM").
		quotes(t0+1000, "MSFT", "AAPL").
		save(filepath.Join(dir, "src.qds"))

	dst := filepath.Join(dir, "copy.qds")
	w, _ := newTestWriter(t, dst)
	r, err := NewReader(src, w, WithSpeed(math.Inf(1)), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, r.Read(context.Background()))
	require.NoError(t, w.Close())

	c := readAll(t, dst)
	require.Equal(t, []string{"IBM", "MSFT", "AAPL"}, c.dataSymbols())
}

func TestNewWriter_Rejects(t *testing.T) {
	_, err := NewWriter("tape.qds[split=1h]")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewWriter("tape.csv[format=csv,time=message]")
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewWriter("tape.qds", WithStorageSize(1<<20))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = NewWriter("tape-~.qds", WithFormat(format.CSV), WithTimestamps(format.TimestampsMessage))
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}
