// Package tape reads and writes QTP tape files.
//
// # Addresses
//
// Tapes are named by addresses: a file path followed by bracketed
// properties, for example
//
//	/data/quotes-~.qds.gz[split=1h,storagetime=7d][tmpDir=/data/tmp]
//
// A '~' in the file name marks a split tape: the writer replaces it with the
// time the file was opened (layout 20060102-150405-0700) and the reader
// plays every matching file in time order. Property names are
// case-insensitive; programmatic options override address properties.
//
// # Times
//
// Message times come from a companion ".time" file whose lines map stream
// positions to times ("<millis>:<position>" or
// "20060102-150405.000-0700:<position>"), from heartbeats carrying a time,
// or from the EventTime of data entries. The Reader uses them to pace
// delivery: a message recorded at t is delivered at
//
//	wall0 + (t - virt0) / speed
//
// where (virt0, wall0) is set by the first timed message of every pass over
// the tape, by the start time, or by the delay.
//
//	r, err := tape.NewReader("quotes-~.qds[speed=10,start=093000]", consumer)
//	if err != nil {
//		return err
//	}
//	defer r.Close()
//
//	return r.Read(ctx)
package tape
