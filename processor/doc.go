// Package processor moves entries from record providers to handlers on a
// caller supplied Executor.
//
// A processor keeps one atomic flag that says whether a task is scheduled.
// Providers signal availability, the first signal schedules a task, and the
// task retrieves one bounded batch per provider before it yields the
// executor. After clearing the flag the task checks availability again, so a
// signal that races with going idle is never lost.
//
//	queue := processor.NewQueueProvider()
//	p, _ := processor.NewRecordProcessor(processor.GoExecutor{}, handler,
//		processor.WithBatchSize(500),
//		processor.WithLogger(log))
//	_ = p.Start(map[record.Contract]record.Provider{record.Stream: queue})
//	queue.Add(entries...)
//
// A handler panic does not wedge the processor: the batch is dropped, the
// panic is logged and the task is rescheduled, optionally after the delay of
// a backoff policy configured with WithFailureBackoff.
package processor
