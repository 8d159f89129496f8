/*
scheduler.go - Periodic expiry watch

PURPOSE:
  Scans stock on an interval for lots that are expired or about to expire,
  logs a warning per lot, and keeps the latest scan for the reports
  endpoint so the till can show it without rescanning.

DESIGN:
  - One background goroutine ticking every CheckInterval
  - Scans once immediately on Start
  - Read-only: never changes stock

USAGE:
  watch := NewExpiryScheduler(engine, log)
  watch.Start()
  // ... later
  watch.Stop()

SEE ALSO:
  - shop/engine.go: ExpiringLots
  - handlers.go: GET /api/reports/expiring
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/retail-ledger/logger"
	"github.com/warp/retail-ledger/shop"
)

// ExpiryScan is the result of one scan.
type ExpiryScan struct {
	RanAt  time.Time          `json:"ran_at"`
	Window time.Duration      `json:"window"`
	Lots   []shop.ExpiringLot `json:"lots"`
}

// ExpiryScheduler periodically reports lots nearing expiry.
type ExpiryScheduler struct {
	Engine        *shop.Engine
	CheckInterval time.Duration
	Window        time.Duration
	Enabled       bool

	log    *logger.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   *ExpiryScan
}

func NewExpiryScheduler(engine *shop.Engine, log *logger.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		Engine:        engine,
		CheckInterval: 6 * time.Hour,
		Window:        30 * 24 * time.Hour,
		Enabled:       true,
		log:           log.WithComponent("expiry"),
	}
}

func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled || es.ticker != nil {
		return
	}
	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)
	go es.run(es.ticker.C, es.stop)

	es.log.Infow("expiry watch started", "interval", es.CheckInterval, "window", es.Window)
}

func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	if es.ticker == nil {
		es.mu.Unlock()
		return
	}
	es.ticker.Stop()
	close(es.stop)
	es.ticker = nil
	es.mu.Unlock()

	es.wg.Wait()
	es.log.Infow("expiry watch stopped")
}

// Latest returns the most recent scan, or nil before the first one.
func (es *ExpiryScheduler) Latest() *ExpiryScan {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.last
}

func (es *ExpiryScheduler) run(ticks <-chan time.Time, stop <-chan struct{}) {
	defer es.wg.Done()

	es.Scan(context.Background())

	for {
		select {
		case <-ticks:
			es.Scan(context.Background())
		case <-stop:
			return
		}
	}
}

// Scan checks stock now and stores the result.
func (es *ExpiryScheduler) Scan(ctx context.Context) (*ExpiryScan, error) {
	now := es.Engine.Now()
	lots, err := es.Engine.ExpiringLots(ctx, now, es.Window)
	if err != nil {
		es.log.Errorw("expiry scan failed", "error", err)
		return nil, err
	}
	for _, l := range lots {
		es.log.Warnw("lot nearing expiry",
			"product", l.ProductID,
			"lot", l.LotNumber,
			"quantity", l.Quantity.String(),
			"expiry", l.ExpiryDate.Format(time.DateOnly),
			"expired", l.Expired,
		)
	}

	scan := &ExpiryScan{RanAt: now, Window: es.Window, Lots: lots}
	es.mu.Lock()
	es.last = scan
	es.mu.Unlock()
	return scan, nil
}
