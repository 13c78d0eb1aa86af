package client

import (
	"context"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// ErrCircuitOpen is returned while the breaker rejects publishing.
var ErrCircuitOpen = errors.New("publish: circuit open")

var publishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quiver_publish_total",
	Help: "Snapshot publish attempts by result",
}, []string{"result"})

// Publisher sends snapshots to one dataset through a RecordPutter guarded by
// a circuit breaker. A failed put is reported, never retried here.
type Publisher struct {
	putter  RecordPutter
	breaker *CircuitBreaker
	dataset string
	timeout time.Duration
}

// NewPublisher wraps putter. A zero timeout means the caller's context alone
// bounds each put.
func NewPublisher(putter RecordPutter, breaker *CircuitBreaker, dataset string, timeout time.Duration) *Publisher {
	return &Publisher{putter: putter, breaker: breaker, dataset: dataset, timeout: timeout}
}

// Publish uploads rec.
func (p *Publisher) Publish(ctx context.Context, rec arrow.RecordBatch) error {
	if !p.breaker.Allow() {
		publishTotal.WithLabelValues("rejected").Inc()
		return ErrCircuitOpen
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := p.putter.DoPut(ctx, p.dataset, rec); err != nil {
		p.breaker.Failure()
		publishTotal.WithLabelValues("failed").Inc()
		log.Warn().Err(err).Str("dataset", p.dataset).Str("breaker", p.breaker.State().String()).Msg("snapshot publish failed")
		return errors.Wrapf(err, "publish %s", p.dataset)
	}
	p.breaker.Success()
	publishTotal.WithLabelValues("ok").Inc()
	log.Debug().Str("dataset", p.dataset).Int64("rows", rec.NumRows()).Msg("snapshot published")
	return nil
}

// Close closes the underlying putter.
func (p *Publisher) Close() error {
	return p.putter.Close()
}
