package tape

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/devexperts/QD-sub012/format"
)

func TestSplitPath(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.Equal(t, filepath.Join("dir~x", "tape-20240102-030405+0000.qds"),
		SplitPath(filepath.Join("dir~x", "tape-~.qds"), at))

	ny := time.FixedZone("EST", -5*3600)
	require.Equal(t, "tape-20240101-220405-0500.qds", SplitPath("tape-~.qds", at.In(ny)))
	require.Equal(t, "plain.qds", SplitPath("plain.qds", at))

	require.True(t, IsSplitPath("a/tape-~.qds"))
	require.False(t, IsSplitPath("a~/tape.qds"))
}

func TestListTimestampedFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"tape-20240102-030405+0000.qds",
		"tape-20240101-000000+0000.qds",
		"tape-20240101-000000+0000.time",
		"tape-20240101-120000-0500.qds",
		"tape.qds",
		"tape-2024-01-01.qds",
		"tape-20240101-000000+0000.qds.bak",
		"other-20240101-000000+0000.qds",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "tape-20240103-000000+0000.qds"), 0o755))

	files, err := ListTimestampedFiles(filepath.Join(dir, "tape-~.qds"))
	require.NoError(t, err)

	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f.Path))
		require.Equal(t, int64(len(filepath.Base(f.Path))), f.Size)
	}
	require.Equal(t, []string{
		"tape-20240101-000000+0000.qds",
		"tape-20240101-120000-0500.qds",
		"tape-20240102-030405+0000.qds",
	}, names)
	require.True(t, files[1].Time.Equal(time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)))

	_, err = ListTimestampedFiles(filepath.Join(dir, "tape.qds"))
	require.Error(t, err)

	_, err = ListTimestampedFiles(filepath.Join(dir, "missing", "tape-~.qds"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestTimeFilePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"d/tape-20240101-000000+0000.qds", "d/tape-20240101-000000+0000.time"},
		{"d/tape-20240101-000000+0000.qds.gz", "d/tape-20240101-000000+0000.time"},
		{"d/tape-20240101-000000-0500", "d/tape-20240101-000000-0500.time"},
		{"d/tape.20240101-000000+0000", "d/tape.20240101-000000+0000.time"},
		{"tape", "tape.time"},
		{"tape.csv.zst", "tape.time"},
	}

	for _, tt := range tests {
		require.Equal(t, filepath.FromSlash(tt.want), TimeFilePath(filepath.FromSlash(tt.in)), tt.in)
	}
}

func TestTmpPath(t *testing.T) {
	p := tmpPath("/tmp/x", "/data/tape-20240101-000000+0000.qds")
	require.Equal(t, "/tmp/x", filepath.Dir(p))
	require.True(t, strings.HasSuffix(p, "-tape-20240101-000000+0000.qds"))
	require.NotEqual(t, p, tmpPath("/tmp/x", "/other/tape-20240101-000000+0000.qds"),
		"files with the same name in different directories do not collide")
}

func TestTimeLines(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 123_000_000, time.UTC)
	tp := TimePosition{Time: at.UnixMilli(), Position: 42}

	long := AppendTimeLine(nil, format.TimestampsLong, tp, nil)
	require.Equal(t, "1704164645123:42\n", string(long))

	text := AppendTimeLine(nil, format.TimestampsText, tp, time.UTC)
	require.Equal(t, "20240102-030405.123+0000:42\n", string(text))

	for _, line := range []string{string(long), string(text), "20240102-060405.123+0300:42"} {
		got, err := ParseTimeLine(line)
		require.NoError(t, err, line)
		require.Equal(t, tp, got, line)
	}

	for _, line := range []string{"", "abc", "12:xx", ":5", "12:-1", "2024-01-02:5"} {
		_, err := ParseTimeLine(line)
		require.Error(t, err, "%q", line)
	}
}

func TestTimeIndex(t *testing.T) {
	x := newTimeIndex(strings.NewReader("0:0\n\n1000:100\r\n2000:250"))

	tests := []struct {
		pos  int64
		want int64
	}{
		{0, 0}, {50, 0}, {100, 1000}, {249, 1000}, {250, 2000}, {10_000, 2000},
	}
	for _, tt := range tests {
		got, ok, err := x.timeAt(tt.pos)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, tt.want, got, "position %d", tt.pos)
	}

	late := newTimeIndex(strings.NewReader("5000:10\n"))
	_, ok, err := late.timeAt(0)
	require.NoError(t, err)
	require.False(t, ok, "no entry covers the start of the stream")

	bad := newTimeIndex(strings.NewReader("0:0\nbroken\n"))
	_, _, err = bad.timeAt(100)
	require.Error(t, err)
}
