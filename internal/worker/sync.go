package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/metrics"
	"github.com/jmehdipour/daily-coordinator/internal/model"
	"github.com/jmehdipour/daily-coordinator/internal/repository"
	"github.com/jmehdipour/daily-coordinator/internal/transport"
)

// Sync is the reference consumer of relayed events:
// - receives messages from a Source,
// - materialises each event into Firestore (per message, before ack),
// - batches analytics rows into ClickHouse (size/time based flush).
type Sync struct {
	Source Source
	Tasks  repository.TaskRepository     // optional
	Events repository.CHEventsRepository // optional

	BatchSize int
	BatchWait time.Duration

	now func() time.Time
}

func NewSync(src Source, tasks repository.TaskRepository, events repository.CHEventsRepository) *Sync {
	return &Sync{
		Source:    src,
		Tasks:     tasks,
		Events:    events,
		BatchSize: 200,
		BatchWait: 500 * time.Millisecond,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled, then flushes buffered rows.
func (w *Sync) Run(ctx context.Context) error {
	if w.Source == nil {
		return errors.New("sync: no source")
	}
	if w.Tasks == nil && w.Events == nil {
		return errors.New("sync: no sink enabled")
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 200
	}
	if w.BatchWait <= 0 {
		w.BatchWait = 500 * time.Millisecond
	}
	if w.now == nil {
		w.now = time.Now
	}

	rows := make(chan model.EventRow, w.BatchSize*2)
	var writer sync.WaitGroup
	if w.Events != nil {
		writer.Add(1)
		go func() {
			defer writer.Done()
			w.runBatchWriter(ctx, rows)
		}()
	}

	logger.Log.Info("sync worker started", zap.String("source", w.Source.Name()))
	err := w.Source.Receive(ctx, func(ctx context.Context, d Delivery) {
		w.handle(ctx, d, rows)
	})

	close(rows)
	writer.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (w *Sync) handle(ctx context.Context, d Delivery, rows chan<- model.EventRow) {
	ev, err := model.DecodeEvent(d.Data)
	if err == nil {
		err = ev.Validate()
	}
	if err != nil {
		metrics.SyncedEventsTotal.WithLabelValues("decode", "failed").Inc()
		logger.Log.Warn("dropping undecodable event", zap.String("message_id", d.ID), zap.Error(err))
		d.Ack() // poison: redelivery would fail the same way
		return
	}

	re := model.RelayedEvent{
		MessageID:  d.ID,
		Event:      ev,
		Source:     d.Attributes[transport.AttrSource],
		EventType:  d.Attributes[transport.AttrEventType],
		ReceivedAt: w.now().UTC(),
	}

	if w.Tasks != nil {
		docID, err := w.Tasks.Write(ctx, re)
		if err != nil {
			metrics.SyncedEventsTotal.WithLabelValues("firestore", "failed").Inc()
			logger.Log.Error("firestore write failed", zap.String("message_id", d.ID), zap.Error(err))
			d.Nack()
			return
		}
		metrics.SyncedEventsTotal.WithLabelValues("firestore", "ok").Inc()
		logger.Log.Debug("task stored", zap.String("doc_id", docID), zap.String("coordinator_id", ev.CoordinatorID))
	}

	if w.Events != nil {
		select {
		case rows <- re.Row():
		case <-ctx.Done():
			d.Nack()
			return
		}
	}
	d.Ack()
}

// runBatchWriter flushes rows to ClickHouse by size or by time.
func (w *Sync) runBatchWriter(ctx context.Context, in <-chan model.EventRow) {
	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	batch := make([]model.EventRow, 0, w.BatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := w.Events.InsertBatch(fctx, batch); err != nil {
			metrics.SyncedEventsTotal.WithLabelValues("clickhouse", "failed").Add(float64(len(batch)))
			logger.Log.Error("clickhouse batch insert failed", zap.Int("rows", len(batch)), zap.Error(err))
		} else {
			metrics.SyncedEventsTotal.WithLabelValues("clickhouse", "ok").Add(float64(len(batch)))
			logger.Log.Debug("clickhouse batch flushed", zap.Int("rows", len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case row, ok := <-in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, row)
			if len(batch) >= w.BatchSize {
				flush()
			}
		case <-tick.C:
			flush()
		}
	}
}
