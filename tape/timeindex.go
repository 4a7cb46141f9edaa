package tape

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/devexperts/QD-sub012/errs"
	"github.com/devexperts/QD-sub012/format"
)

// TimePosition is one line of a .time file: data at Position and later was
// recorded at Time (milliseconds since the epoch).
type TimePosition struct {
	Time     int64
	Position int64
}

// AppendTimeLine appends "<timestamp>:<position>\n" in the layout of t.
func AppendTimeLine(dst []byte, t format.TimestampsType, tp TimePosition, loc *time.Location) []byte {
	if t == format.TimestampsText {
		if loc == nil {
			loc = time.Local
		}
		dst = time.UnixMilli(tp.Time).In(loc).AppendFormat(dst, TextTimeLayout)
	} else {
		dst = strconv.AppendInt(dst, tp.Time, 10)
	}
	dst = append(dst, ':')
	dst = strconv.AppendInt(dst, tp.Position, 10)

	return append(dst, '\n')
}

// ParseTimeLine parses one .time line in either layout.
func ParseTimeLine(line string) (TimePosition, error) {
	line = strings.TrimSpace(line)
	i := strings.LastIndexByte(line, ':')
	if i <= 0 {
		return TimePosition{}, errs.NewParseError(errs.ErrInvalidTimestamp, line, -1, "expected <timestamp>:<position>")
	}

	pos, err := strconv.ParseInt(line[i+1:], 10, 64)
	if err != nil || pos < 0 {
		return TimePosition{}, errs.NewParseError(errs.ErrInvalidTimestamp, line, i+1, "bad position")
	}

	stamp := line[:i]
	if isDigits(stamp) {
		ms, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			return TimePosition{}, errs.NewParseError(errs.ErrInvalidTimestamp, line, 0, err.Error())
		}

		return TimePosition{Time: ms, Position: pos}, nil
	}

	t, err := time.Parse(TextTimeLayout, stamp)
	if err != nil {
		return TimePosition{}, errs.NewParseError(errs.ErrInvalidTimestamp, line, 0, err.Error())
	}

	return TimePosition{Time: t.UnixMilli(), Position: pos}, nil
}

// timeIndex walks a .time file alongside the data stream.
type timeIndex struct {
	r       *bufio.Reader
	current TimePosition
	valid   bool
	next    TimePosition
	hasNext bool
	done    bool
}

func newTimeIndex(r io.Reader) *timeIndex {
	return &timeIndex{r: bufio.NewReader(r)}
}

// timeAt returns the time of the latest entry at or before position.
func (x *timeIndex) timeAt(position int64) (int64, bool, error) {
	for {
		if !x.hasNext {
			if err := x.fetch(); err != nil {
				return 0, false, err
			}
			if !x.hasNext {
				break
			}
		}
		if x.next.Position > position {
			break
		}
		x.current, x.valid = x.next, true
		x.hasNext = false
	}

	return x.current.Time, x.valid, nil
}

func (x *timeIndex) fetch() error {
	for !x.done {
		line, err := x.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read time index: %w", err)
		}
		if errors.Is(err, io.EOF) {
			x.done = true
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		tp, perr := ParseTimeLine(line)
		if perr != nil {
			return perr
		}
		x.next, x.hasNext = tp, true

		return nil
	}

	return nil
}
