package feed

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rustyeddy/papertrade/market"
)

// TopicAll subscribes to every tracked instrument.
const TopicAll = "all"

const defaultBuffer = 64

// BusConfig configures a quote bus.
type BusConfig struct {
	Instruments []market.Instrument
	Generator   *Generator
	Interval    time.Duration // tick period for synthetic generation
	HistoryCap  int           // retained samples per instrument (default 500)
	Buffer      int           // per-subscriber queue depth
}

type subscriber struct {
	id      int64
	topic   string
	handler market.QuoteHandler
	ch      chan market.Quote
}

// Bus schedules quote generation, fans quotes out to subscribers and
// retains a bounded rolling history per instrument.
//
// Each subscriber owns a buffered channel drained by its own goroutine,
// so a slow or panicking handler never delays the scheduler or other
// subscribers. When a subscriber's buffer is full the oldest pending
// quote is dropped to make room.
type Bus struct {
	cfg BusConfig

	mu      sync.Mutex
	last    map[string]market.Quote
	history map[string]*market.History
	subs    map[int64]*subscriber
	nextSub int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBus(cfg BusConfig) *Bus {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 500
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Generator == nil {
		cfg.Generator = NewGenerator(nil, DefaultDriftBias)
	}

	b := &Bus{
		cfg:     cfg,
		last:    make(map[string]market.Quote),
		history: make(map[string]*market.History),
		subs:    make(map[int64]*subscriber),
	}
	for _, inst := range cfg.Instruments {
		b.history[inst.Symbol] = market.NewHistory(cfg.HistoryCap)
	}
	return b
}

// Start launches the periodic generation loop. Generation continues
// whether or not anyone is subscribed, so history stays current.
func (b *Bus) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.tick(now)
			}
		}
	}()
}

// Stop halts generation and subscriber delivery goroutines. Pending
// quotes already queued to subscribers are still delivered.
func (b *Bus) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.mu.Lock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}

// tick generates and publishes one quote per tracked instrument. The
// fan-out order across instruments within a tick follows the configured
// instrument order and is not reordered after dispatch starts.
func (b *Bus) tick(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, inst := range b.cfg.Instruments {
		prev := inst.BasePrice
		if q, ok := b.last[inst.Symbol]; ok {
			prev = q.Price
		}
		b.publishLocked(b.cfg.Generator.Next(inst, prev, now))
	}
}

// Publish accepts an externally-sourced quote through the same path as
// generated ones. Malformed quotes are clamped, never rejected: the bus
// raises no user-facing errors.
func (b *Bus) Publish(q market.Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishLocked(q)
}

func (b *Bus) publishLocked(q market.Quote) {
	if q.Price <= 0 {
		return // clamp: drop impossible prices rather than propagate them
	}
	if prev, ok := b.last[q.Instrument]; ok && !q.Time.After(prev.Time) {
		q.Time = prev.Time.Add(time.Millisecond) // keep per-instrument time strictly increasing
	}
	b.last[q.Instrument] = q

	h, ok := b.history[q.Instrument]
	if !ok {
		h = market.NewHistory(b.cfg.HistoryCap)
		b.history[q.Instrument] = h
	}
	h.Append(market.Sample{Time: q.Time, Price: q.Price, Volume: q.Volume})

	for _, sub := range b.subs {
		if sub.topic != TopicAll && sub.topic != q.Instrument {
			continue
		}
		select {
		case sub.ch <- q:
		default:
			// Slow subscriber: drop its oldest pending quote.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- q:
			default:
			}
			log.WithField("topic", sub.topic).Warn("slow quote subscriber, dropped oldest pending quote")
		}
	}
}

// Subscribe registers handler for one instrument's quotes, or for every
// instrument with TopicAll. The last known quote for each matching
// instrument is delivered synchronously before Subscribe returns, so a
// new subscriber never starts from empty data. The returned function
// cancels the subscription.
func (b *Bus) Subscribe(topic string, handler market.QuoteHandler) func() {
	b.mu.Lock()
	b.nextSub++
	sub := &subscriber{
		id:      b.nextSub,
		topic:   topic,
		handler: handler,
		ch:      make(chan market.Quote, b.cfg.Buffer),
	}
	b.subs[sub.id] = sub

	var initial []market.Quote
	if topic == TopicAll {
		for _, inst := range b.cfg.Instruments {
			if q, ok := b.last[inst.Symbol]; ok {
				initial = append(initial, q)
			}
		}
	} else if q, ok := b.last[topic]; ok {
		initial = append(initial, q)
	}
	b.mu.Unlock()

	for _, q := range initial {
		b.safeCall(sub, q)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for q := range sub.ch {
			b.safeCall(sub, q)
		}
	}()

	log.WithField("topic", topic).Debug("quote subscriber registered")

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(sub.ch)
		}
	}
}

// safeCall isolates handler panics so one failing subscriber cannot
// halt delivery to the others or stop the scheduler.
func (b *Bus) safeCall(sub *subscriber, q market.Quote) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"topic":      sub.topic,
				"instrument": q.Instrument,
			}).Errorf("quote handler panicked: %v", r)
		}
	}()
	sub.handler(q)
}

// CurrentQuote returns the last known quote for symbol.
func (b *Bus) CurrentQuote(symbol string) (market.Quote, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.last[symbol]
	return q, ok
}

// History returns the retained samples for symbol, oldest first.
func (b *Bus) History(symbol string) []market.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.history[symbol]; ok {
		return h.Samples()
	}
	return nil
}

// HistorySince returns the samples for symbol within the given
// timeframe, oldest first.
func (b *Bus) HistorySince(symbol string, timeframe time.Duration) []market.Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.history[symbol]; ok {
		return h.Since(time.Now().Add(-timeframe))
	}
	return nil
}
