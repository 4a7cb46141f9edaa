// Package qd records and replays QTP market data tapes.
//
// A tape is a file, or a time-split series of files, holding a stream of
// QTP messages: protocol and record descriptions, heartbeats, data and
// subscription batches. Tapes are written in binary, text or CSV form,
// optionally compressed, next to a ".time" index that maps stream
// positions to the time each message was recorded.
//
// # Package Structure
//
// This package provides top-level wrappers for the most common tasks. The
// work is done by the sub-packages:
//
//   - decimal: the 32-bit packed decimal used by price and size fields
//   - encoding: compact integer framing of the binary wire format
//   - record: records, fields, entries and the scheme that names them
//   - qtp: message composers and parsers for every tape format
//   - feed: subscriptions with symbol sets, change listeners and delivery
//   - processor: executor-driven record and subscription processors
//   - tape: the tape Reader, Writer and ParallelWriter
//
// # Basic Usage
//
// Recording:
//
//	w, err := qd.NewTapeWriter("data/quotes-~.qds.gz[split=1h,storagetime=7d]")
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	err = w.WriteData(record.Ticker, entries)
//
// Replaying at ten times the recorded pace:
//
//	err := qd.ReadTape(ctx, "data/quotes-~.qds.gz[speed=10]", consumer)
//
// Converting a binary tape to text as fast as possible:
//
//	err := qd.CopyTape(ctx, "quotes.qds", "quotes.txt[format=text]")
package qd

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/devexperts/QD-sub012/decimal"
	"github.com/devexperts/QD-sub012/qtp"
	"github.com/devexperts/QD-sub012/tape"
)

// ReadTape replays the tape at address into consumer and returns once the
// tape ends or ctx is done.
//
// Pacing, time window, cycling and format are set by the bracketed
// properties of address or by opts, which take precedence. See the tape
// package for the full list.
//
// Example:
//
//	err := qd.ReadTape(ctx, "quotes.qds[start=093000,stop=160000,speed=max]", consumer)
func ReadTape(ctx context.Context, address string, consumer qtp.MessageConsumer, opts ...tape.Option) error {
	r, err := tape.NewReader(address, consumer, opts...)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.Read(ctx)
}

// NewTapeWriter creates a writer recording into address.
//
// Parameters:
//   - address: the file path, with a '~' marker for split tapes, followed
//     by bracketed properties such as [split=1h,storagesize=10G,tmpDir=/tmp]
//   - opts: programmatic settings, overriding the address properties
//
// Returns:
//   - *tape.Writer: the writer. It must be closed to complete the files.
//   - error: an error if the address or the options are invalid.
func NewTapeWriter(address string, opts ...tape.Option) (*tape.Writer, error) {
	return tape.NewWriter(address, opts...)
}

// CopyTape reads the tape at src and records every message into dst.
//
// The source is read at maximum speed; pass tape.WithSpeed in readOpts to
// replay it paced instead. The destination address selects the output
// format, compression and splitting, so CopyTape converts between formats:
//
//	err := qd.CopyTape(ctx, "quotes.qds.gz", "quotes.csv[format=csv]")
func CopyTape(ctx context.Context, src, dst string, readOpts ...tape.Option) error {
	w, err := tape.NewWriter(dst)
	if err != nil {
		return err
	}

	opts := append([]tape.Option{tape.WithSpeed(math.Inf(1))}, readOpts...)
	readErr := ReadTape(ctx, src, w, opts...)
	if err := errors.Join(readErr, w.Close()); err != nil {
		return fmt.Errorf("copy tape: %w", err)
	}

	return nil
}

// ParseDecimal parses the text form of a decimal, such as "101.25", "-0.5",
// "NaN" or "Infinity".
func ParseDecimal(s string) (decimal.Decimal, error) {
	return decimal.Parse(s)
}

// FormatDecimal returns the canonical text form of d.
func FormatDecimal(d decimal.Decimal) string {
	return decimal.String(d)
}
