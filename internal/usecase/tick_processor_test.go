package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"CascadeAdvisor/internal/domain/models"
	"CascadeAdvisor/internal/repository/memory"
	"CascadeAdvisor/pkg/logger"
	"CascadeAdvisor/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	ticks  []*models.PriceTick
	closed bool
}

func (p *recordingPublisher) Publish(_ context.Context, t *models.PriceTick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks = append(p.ticks, t)
	return nil
}

func (p *recordingPublisher) PublishBatch(ctx context.Context, ticks []*models.PriceTick) error {
	for _, t := range ticks {
		_ = p.Publish(ctx, t)
	}
	return nil
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

var symbolAssets = map[string]string{"BINANCE:BTCUSDT": "BTC"}

func tick(symbol, price string) *models.PriceTick {
	return &models.PriceTick{Symbol: symbol, Price: dec(price), Timestamp: time.Now()}
}

func latest(t *testing.T, book *memory.PriceBook, asset string) string {
	t.Helper()
	p, ok, err := book.Latest(context.Background(), asset)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return p.String()
}

func TestTickProcessorDirect(t *testing.T) {
	book := memory.NewPriceBook()
	p := NewTickProcessor(book, nil, metrics.New(prometheus.NewRegistry()), TransportDirect, symbolAssets)

	require.NoError(t, p.Process(context.Background(), tick("BINANCE:BTCUSDT", "64000.5")))
	require.NoError(t, p.ProcessBatch(context.Background(), []*models.PriceTick{
		tick("ethusdt", "3100"),
		tick("ethusdt", "3101"),
	}))

	assert.Equal(t, "64000.5", latest(t, book, "BTC"))
	assert.Equal(t, "3101", latest(t, book, "ETHUSDT"))
	assert.Error(t, p.Process(context.Background(), nil))
}

func TestTickProcessorKafka(t *testing.T) {
	pub := &recordingPublisher{}
	book := memory.NewPriceBook()
	p := NewTickProcessor(book, pub, metrics.New(prometheus.NewRegistry()), TransportKafka, symbolAssets)

	require.NoError(t, p.Process(context.Background(), tick("BINANCE:BTCUSDT", "1")))
	require.NoError(t, p.ProcessBatch(context.Background(), []*models.PriceTick{tick("x", "2")}))
	assert.Len(t, pub.ticks, 2)
	assert.Empty(t, latest(t, book, "BTC"))

	p.Close()
	assert.True(t, pub.closed)
}

func TestTickProcessorUnknownTransport(t *testing.T) {
	p := NewTickProcessor(memory.NewPriceBook(), nil, metrics.New(prometheus.NewRegistry()), "carrier-pigeon", nil)
	assert.Error(t, p.Process(context.Background(), tick("x", "1")))
	assert.Error(t, p.ProcessBatch(context.Background(), []*models.PriceTick{tick("x", "1")}))
}

func TestKafkaTicksHandlerUpdatesBook(t *testing.T) {
	book := memory.NewPriceBook()
	rec := metrics.New(prometheus.NewRegistry())
	proc := NewTickProcessor(book, nil, rec, TransportKafka, symbolAssets)
	h := NewKafkaTicksHandler("ticks", proc, book, rec)
	assert.Equal(t, "ticks", h.Topic())

	b, err := json.Marshal(tick("BINANCE:BTCUSDT", "65000"))
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), b))
	assert.Equal(t, "65000", latest(t, book, "BTC"))

	assert.Error(t, h.Handle(context.Background(), []byte("{")))
}

type fakeStream struct {
	mu         sync.Mutex
	ticks      chan *models.PriceTick
	errs       chan error
	reads      atomic.Int32
	reconnects atomic.Int32
	connected  atomic.Bool
}

func newFakeStream() *fakeStream { return &fakeStream{} }

func (s *fakeStream) Connect(context.Context) error {
	s.connected.Store(true)
	return nil
}

func (s *fakeStream) Subscribe(context.Context) error { return nil }

func (s *fakeStream) Read(context.Context) (<-chan *models.PriceTick, <-chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads.Add(1)
	s.ticks = make(chan *models.PriceTick, 8)
	s.errs = make(chan error, 1)
	return s.ticks, s.errs
}

func (s *fakeStream) channels() (chan *models.PriceTick, chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.errs
}

func (s *fakeStream) Reconnect(context.Context) error {
	s.reconnects.Add(1)
	return nil
}

func (s *fakeStream) Close() error {
	s.connected.Store(false)
	return nil
}

func (s *fakeStream) IsConnected() bool { return s.connected.Load() }

func TestTickCollectorResumesAfterStreamError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := newFakeStream()
	book := memory.NewPriceBook()
	rec := metrics.New(prometheus.NewRegistry())
	c := NewTickCollector(stream, NewTickProcessor(book, nil, rec, TransportDirect, symbolAssets), rec, nil, logger.NewNop())
	require.NoError(t, c.Start(ctx))
	assert.True(t, c.IsConnected())

	ticks, errs := stream.channels()
	ticks <- tick("BINANCE:BTCUSDT", "100")
	assert.Eventually(t, func() bool { return latest(t, book, "BTC") == "100" }, time.Second, 5*time.Millisecond)

	errs <- errors.New("socket reset")
	assert.Eventually(t, func() bool { return stream.reads.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), stream.reconnects.Load())

	ticks, _ = stream.channels()
	ticks <- tick("BINANCE:BTCUSDT", "101")
	assert.Eventually(t, func() bool { return latest(t, book, "BTC") == "101" }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.False(t, c.IsConnected())
}
