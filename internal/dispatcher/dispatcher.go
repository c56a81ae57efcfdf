package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/daily-coordinator/internal/logger"
	"github.com/jmehdipour/daily-coordinator/internal/metrics"
)

var ErrBreakerOpen = errors.New("channel breaker open")

type guarded struct {
	ch Channel
	br *MicroBreaker
}

// Dispatcher fans an alert out to every configured channel. A failing channel
// never blocks the others.
type Dispatcher struct {
	channels []guarded
}

func NewDispatcher(failThreshold int, openFor time.Duration, chans ...Channel) *Dispatcher {
	d := &Dispatcher{}
	for _, c := range chans {
		if c == nil {
			continue
		}
		d.channels = append(d.channels, guarded{ch: c, br: NewMicroBreaker(failThreshold, openFor)})
	}
	return d
}

// Channels returns the configured channel names.
func (d *Dispatcher) Channels() []string {
	names := make([]string, 0, len(d.channels))
	for _, g := range d.channels {
		names = append(names, g.ch.Name())
	}
	return names
}

// Notify sends a to all channels concurrently and joins their errors.
func (d *Dispatcher) Notify(ctx context.Context, a Alert) error {
	if d == nil || len(d.channels) == 0 {
		return nil
	}

	errs := make([]error, len(d.channels))
	var wg sync.WaitGroup
	for i, g := range d.channels {
		wg.Add(1)
		go func(i int, g guarded) {
			defer wg.Done()
			errs[i] = d.sendOne(ctx, g, a)
		}(i, g)
	}
	wg.Wait()

	return errors.Join(errs...)
}

func (d *Dispatcher) sendOne(ctx context.Context, g guarded, a Alert) error {
	name := g.ch.Name()
	if !g.br.TryAcquire() {
		metrics.AlertsTotal.WithLabelValues(name, "skipped").Inc()
		return fmt.Errorf("%s: %w", name, ErrBreakerOpen)
	}

	if err := g.ch.Send(ctx, a); err != nil {
		g.br.OnFailure()
		metrics.AlertsTotal.WithLabelValues(name, "failed").Inc()
		logger.Log.Warn("alert delivery failed",
			zap.String("channel", name),
			zap.String("subject", a.Subject),
			zap.String("breaker", g.br.State()),
			zap.Error(err),
		)
		return fmt.Errorf("%s: %w", name, err)
	}

	g.br.OnSuccess()
	metrics.AlertsTotal.WithLabelValues(name, "sent").Inc()
	logger.Log.Info("alert published", zap.String("channel", name), zap.String("subject", a.Subject))
	return nil
}
