// Package qtp implements QTP messages and their binary, text, CSV and blob
// file encodings.
//
// # Binary framing
//
// Every binary message is framed as
//
//	compact(length) compact(type) payload
//
// where length counts the type and payload bytes. A zero length frame is an
// empty heartbeat. Data payloads are a sequence of entries:
//
//	utf(symbol) compact(record id) [compact(time) compact(sequence)] fields...
//
// An empty symbol repeats the previous one. Time columns are present when
// the stream's protocol description says time=field.
//
// # Parsing
//
// Parsers are fed chunks and return one Result per call to Next. Corrupted
// binary input yields Fatal, or Resynced when WithResyncOn is configured and
// a well-formed message of the given type was found further on:
//
//	p, _ := qtp.NewParser(format.Binary, qtp.WithScheme(scheme), qtp.WithResyncOn(qtp.MessageTickerData))
//	p.Feed(chunk)
//	for res := p.Next(); res.Outcome != qtp.NeedMore; res = p.Next() {
//		switch res.Outcome {
//		case qtp.Parsed:
//			qtp.Deliver(consumer, &res.Message)
//		case qtp.Resynced:
//			log.Warn("skipped corrupted data", zap.Error(res.Err))
//		case qtp.Fatal:
//			return res.Err
//		}
//	}
package qtp
