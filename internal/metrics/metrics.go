// Package metrics defines the Prometheus collectors of tape readers and writers.
//
// Collectors are plain values; nothing is registered until Register is called,
// so several readers or writers in one process can keep separate counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "qd_tape"

// Reader counts replay activity.
type Reader struct {
	MessagesRead    prometheus.Counter
	MessagesSkipped prometheus.Counter
	FilesOpened     prometheus.Counter
	Corruptions     *prometheus.CounterVec
}

// NewReader creates unregistered reader collectors.
func NewReader() *Reader {
	return &Reader{
		MessagesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "messages_total",
			Help:      "Messages delivered to the consumer",
		}),
		MessagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "messages_skipped_total",
			Help:      "Messages parsed but not delivered because they lie outside the start/stop window",
		}),
		FilesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "files_opened_total",
			Help:      "Data files opened for reading",
		}),
		Corruptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reader",
			Name:      "corruptions_total",
			Help:      "Corrupted stream events by resolution",
		}, []string{"resolution"}),
	}
}

// Collectors returns every collector of r.
func (r *Reader) Collectors() []prometheus.Collector {
	return []prometheus.Collector{r.MessagesRead, r.MessagesSkipped, r.FilesOpened, r.Corruptions}
}

// Writer counts recording activity.
type Writer struct {
	BytesWritten prometheus.Counter
	FilesOpened  prometheus.Counter
	FilesDeleted prometheus.Counter
	Errors       *prometheus.CounterVec
	QueueDepth   prometheus.Gauge
}

// NewWriter creates unregistered writer collectors.
func NewWriter() *Writer {
	return &Writer{
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "bytes_total",
			Help:      "Bytes handed to output files, before compression",
		}),
		FilesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "files_opened_total",
			Help:      "Data files opened, including every split rotation",
		}),
		FilesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "files_deleted_total",
			Help:      "Data files removed by the retention policy",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "errors_total",
			Help:      "I/O errors by operation",
		}, []string{"op"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "queue_depth",
			Help:      "Tasks waiting in parallel writer queues",
		}),
	}
}

// Collectors returns every collector of w.
func (w *Writer) Collectors() []prometheus.Collector {
	return []prometheus.Collector{w.BytesWritten, w.FilesOpened, w.FilesDeleted, w.Errors, w.QueueDepth}
}

// Register registers collectors with reg.
func Register(reg prometheus.Registerer, collectors ...prometheus.Collector) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
