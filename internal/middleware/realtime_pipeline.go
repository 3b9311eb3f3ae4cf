package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CascadeAdvisor/internal/domain/models"
	domrepo "CascadeAdvisor/internal/domain/repository"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, t *models.PriceTick) error
}

// RealtimePipeline sits between the market stream and the tick processor.
// It validates and throttles ticks per symbol, and buffers them while the
// downstream is failing.
type RealtimePipeline struct {
	proc        Proc
	metrics     domrepo.Metrics
	minInterval time.Duration
	bufSize     int
	bufCh       chan *models.PriceTick
	stopCh      chan struct{}
	done        chan struct{}
	started     bool
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	transform   func(*models.PriceTick) *models.PriceTick
}

type PipelineOption func(*RealtimePipeline)

// WithMinInterval sets the minimum spacing between accepted ticks of one symbol.
func WithMinInterval(d time.Duration) PipelineOption {
	return func(p *RealtimePipeline) {
		if d >= 0 {
			p.minInterval = d
		}
	}
}

// WithBufferSize sets the buffer used while downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithTransform sets a hook applied to every tick before throttling.
func WithTransform(fn func(*models.PriceTick) *models.PriceTick) PipelineOption {
	return func(p *RealtimePipeline) { p.transform = fn }
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:        proc,
		metrics:     metrics,
		minInterval: 100 * time.Millisecond,
		bufSize:     1000,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		limiters:    make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.PriceTick, p.bufSize)
	return p
}

// Start launches the background flush of buffered ticks.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 50 * time.Millisecond
		bo.MaxInterval = 2 * time.Second
		bo.MaxElapsedTime = 0

		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case t := <-p.bufCh:
				if err := p.proc.Process(ctx, t); err != nil {
					p.metrics.RecordError("pipeline_flush")
					select {
					case <-time.After(bo.NextBackOff()):
					case <-p.stopCh:
						return
					case <-ctx.Done():
						return
					}
					p.enqueue(t)
					continue
				}
				bo.Reset()
			}
		}
	}()
}

// Stop ends the background flush. Buffered ticks are dropped.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
	<-p.done
}

// Process validates, throttles and forwards a tick, buffering it when the
// downstream fails.
func (p *RealtimePipeline) Process(ctx context.Context, t *models.PriceTick) error {
	start := time.Now()
	if err := validateTick(t); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if p.transform != nil {
		t = p.transform(t)
		if err := validateTick(t); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if !p.allow(t.Symbol) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.proc.Process(ctx, t); err != nil {
		p.metrics.RecordError("pipeline_process")
		p.enqueue(t)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

// Buffered reports the number of ticks waiting for a retry.
func (p *RealtimePipeline) Buffered() int { return len(p.bufCh) }

func (p *RealtimePipeline) enqueue(t *models.PriceTick) {
	select {
	case p.bufCh <- t:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

func validateTick(t *models.PriceTick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if t.Symbol == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	if !t.Price.IsPositive() || t.Volume < 0 {
		return fmt.Errorf("invalid price/volume")
	}
	return nil
}

func (p *RealtimePipeline) allow(symbol string) bool {
	if p.minInterval <= 0 {
		return true
	}
	p.mu.Lock()
	lim, ok := p.limiters[symbol]
	if !ok {
		lim = rate.NewLimiter(rate.Every(p.minInterval), 1)
		p.limiters[symbol] = lim
	}
	p.mu.Unlock()
	return lim.Allow()
}
