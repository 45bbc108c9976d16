package archive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/algorand-firewall-service/internal/model"
)

const writerSaveTimeout = 5 * time.Second

// Writer makes an Archive's save methods asynchronous. Saves enqueue onto a
// buffered channel drained by one background goroutine, so a slow or down
// Postgres never stalls request handling. When the buffer is full the row is
// dropped and counted; alerts and reports also live in the KV store, so a
// drop loses only the long-term copy.
type Writer struct {
	inner   Archive
	jobs    chan func(context.Context)
	wg      sync.WaitGroup
	dropped atomic.Int64
	onDrop  func()
	log     zerolog.Logger
}

func NewWriter(inner Archive, buffer int, log zerolog.Logger) *Writer {
	if buffer < 1 {
		buffer = 256
	}
	w := &Writer{
		inner: inner,
		jobs:  make(chan func(context.Context), buffer),
		log:   log,
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), writerSaveTimeout)
		job(ctx)
		cancel()
	}
}

// Close stops accepting new saves and blocks until queued ones finish.
func (w *Writer) Close() {
	close(w.jobs)
	w.wg.Wait()
}

// Dropped reports how many rows were discarded because the buffer was full.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

// OnDrop registers a callback invoked once per dropped row. Set it before the
// writer sees traffic; it is read without synchronization afterwards.
func (w *Writer) OnDrop(fn func()) {
	w.onDrop = fn
}

func (w *Writer) enqueue(kind string, job func(context.Context)) error {
	select {
	case w.jobs <- job:
	default:
		w.dropped.Add(1)
		if w.onDrop != nil {
			w.onDrop()
		}
		w.log.Warn().Str("kind", kind).Msg("archive buffer full, dropping row")
	}
	return nil
}

func (w *Writer) SaveAlert(ctx context.Context, alert *model.ThreatAlert) error {
	copied := *alert
	return w.enqueue("alert", func(ctx context.Context) {
		if err := w.inner.SaveAlert(ctx, &copied); err != nil {
			w.log.Error().Err(err).Str("alert_id", copied.ID.String()).Msg("archive alert failed")
		}
	})
}

func (w *Writer) SaveReport(ctx context.Context, report *model.ValidationReport) error {
	copied := *report
	return w.enqueue("report", func(ctx context.Context) {
		if err := w.inner.SaveReport(ctx, &copied); err != nil {
			w.log.Error().Err(err).Str("report_id", copied.ID.String()).Msg("archive report failed")
		}
	})
}

func (w *Writer) SaveDDoSEvent(ctx context.Context, event *model.DDoSEvent) error {
	copied := *event
	return w.enqueue("ddos_event", func(ctx context.Context) {
		if err := w.inner.SaveDDoSEvent(ctx, &copied); err != nil {
			w.log.Error().Err(err).Str("client_ip", copied.ClientIP).Msg("archive ddos event failed")
		}
	})
}

// ListAlerts reads synchronously from the wrapped archive.
func (w *Writer) ListAlerts(ctx context.Context, filters AlertFilters) ([]*model.ThreatAlert, int, error) {
	return w.inner.ListAlerts(ctx, filters)
}

// ListReports reads synchronously from the wrapped archive.
func (w *Writer) ListReports(ctx context.Context, filters ReportFilters) ([]*model.ValidationReport, int, error) {
	return w.inner.ListReports(ctx, filters)
}

func (w *Writer) Ping(ctx context.Context) error {
	return w.inner.Ping(ctx)
}
