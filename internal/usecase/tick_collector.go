package usecase

import (
	"context"
	"time"

	"CascadeAdvisor/internal/domain/models"
	drepo "CascadeAdvisor/internal/domain/repository"
	mid "CascadeAdvisor/internal/middleware"
	"CascadeAdvisor/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// TickCollector reads the market stream and feeds the pipeline.
type TickCollector struct {
	stream  drepo.MarketStream
	proc    *TickProcessor
	metrics drepo.Metrics
	pipe    *mid.RealtimePipeline
	log     *logger.Logger
}

func NewTickCollector(stream drepo.MarketStream, proc *TickProcessor, metrics drepo.Metrics, pipe *mid.RealtimePipeline, log *logger.Logger) *TickCollector {
	return &TickCollector{stream: stream, proc: proc, metrics: metrics, pipe: pipe, log: log}
}

func (c *TickCollector) IsConnected() bool { return c.stream.IsConnected() }

func (c *TickCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	tickCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, tickCh, errCh)
	return nil
}

func (c *TickCollector) consume(ctx context.Context, tickCh <-chan *models.PriceTick, errCh <-chan error) {
	for {
		if tickCh == nil && errCh == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			c.metrics.RecordError("stream")
			c.log.Warn("ticks.stream error", logger.Error(err))
			if rerr := c.reconnect(ctx); rerr != nil {
				c.log.Error("ticks.reconnect gave up", logger.Error(rerr))
				return
			}
			tickCh, errCh = c.stream.Read(ctx)
		case t, ok := <-tickCh:
			if !ok {
				tickCh = nil
				continue
			}
			if t == nil {
				continue
			}
			var err error
			if c.pipe != nil {
				err = c.pipe.Process(ctx, t)
			} else {
				err = c.proc.Process(ctx, t)
			}
			if err != nil {
				c.log.Debug("ticks.process failed", logger.String("symbol", t.Symbol), logger.Error(err))
			}
			f, _ := t.Price.Float64()
			c.metrics.RecordLastPrice(t.Symbol, f)
		}
	}
}

// reconnect retries until the stream is back or ctx ends.
func (c *TickCollector) reconnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	return backoff.RetryNotify(func() error {
		return c.stream.Reconnect(ctx)
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		c.log.Warn("ticks.reconnect failed", logger.Error(err), logger.Duration("retry_in", d))
	})
}

// Shutdown stops the pipeline and closes the stream.
func (c *TickCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	c.proc.Close()
	return c.stream.Close()
}
