package tape

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
	"github.com/devexperts/QD-sub012/internal/hash"
)

// SplitMarker is replaced with a timestamp in split file names.
const SplitMarker = "~"

// TimeFileExtension names the companion index of a data file.
const TimeFileExtension = ".time"

var splitTime = regexp.MustCompile(`\d{8}-\d{6}[+-]\d{4}`)

// TimestampedFile is one file of a split tape.
type TimestampedFile struct {
	Path string
	Time time.Time
	Size int64
}

// IsSplitPath reports whether path names a split tape.
func IsSplitPath(path string) bool {
	return strings.Contains(filepath.Base(path), SplitMarker)
}

func checkSplitPath(path string) error {
	if n := strings.Count(filepath.Base(path), SplitMarker); n > 1 {
		return fmt.Errorf("%w: file name %q has %d %q markers", errs.ErrInvalidArgument, path, n, SplitMarker)
	}
	if strings.Contains(filepath.Dir(path), SplitMarker) {
		return fmt.Errorf("%w: %q marker is only allowed in the file name of %q", errs.ErrInvalidArgument, SplitMarker, path)
	}

	return nil
}

// SplitPath substitutes the split marker of pattern with t.
func SplitPath(pattern string, t time.Time) string {
	dir, base := filepath.Split(pattern)
	return dir + strings.Replace(base, SplitMarker, t.Format(SplitTimeLayout), 1)
}

// ListTimestampedFiles returns the files matching a split pattern ordered by
// their timestamp.
func ListTimestampedFiles(pattern string) ([]TimestampedFile, error) {
	dir, base := filepath.Split(pattern)
	if dir == "" {
		dir = "."
	}
	prefix, suffix, ok := strings.Cut(base, SplitMarker)
	if !ok {
		return nil, fmt.Errorf("%w: %q has no %q marker", errs.ErrInvalidArgument, pattern, SplitMarker)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]TimestampedFile, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) <= len(prefix)+len(suffix) ||
			!strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
			continue
		}

		stamp := name[len(prefix) : len(name)-len(suffix)]
		if splitTime.FindString(stamp) != stamp {
			continue
		}
		t, err := time.Parse(SplitTimeLayout, stamp)
		if err != nil {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, TimestampedFile{Path: filepath.Join(dir, name), Time: t, Size: info.Size()})
	}

	slices.SortFunc(files, func(a, b TimestampedFile) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}

		return strings.Compare(a.Path, b.Path)
	})

	return files, nil
}

// TimeFilePath returns the path of the .time index of a data file: the
// compression and data extensions are replaced with ".time".
func TimeFilePath(dataPath string) string {
	dir, base := filepath.Split(dataPath)
	if ext := format.CompressionFromPath(base).Extension(); ext != "" {
		base = base[:len(base)-len(ext)]
	}
	if ext := filepath.Ext(base); ext != "" && !strings.ContainsAny(ext, SplitMarker+"+-") {
		base = base[:len(base)-len(ext)]
	}

	return dir + base + TimeFileExtension
}

// tmpPath names the file written in tmpDir before it is moved to final.
func tmpPath(tmpDir, final string) string {
	return filepath.Join(tmpDir, hash.PathID(final)+"-"+filepath.Base(final))
}
