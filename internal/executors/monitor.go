package executors

import (
	"context"
	"fmt"
	"sync"

	"aisatoshi/internal/market"
	"aisatoshi/internal/scheduler"
	"aisatoshi/internal/types"
)

// Monitor checks a coin price on every run.
//
// Params: coin (default eth), above and/or below thresholds in USD. Without a
// threshold every run reports the price. With thresholds the conversation is
// notified only when the price enters a threshold zone it was not in on the
// previous run.
type Monitor struct {
	prices types.PriceSource

	mu   sync.Mutex
	zone map[string]string // task id -> last zone
}

// NewMonitor creates a price monitor executor.
func NewMonitor(prices types.PriceSource) *Monitor {
	return &Monitor{prices: prices, zone: make(map[string]string)}
}

// Sweep implements scheduler.Sweeper, forgetting zones of inactive tasks.
func (m *Monitor) Sweep(active map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.zone {
		if _, ok := active[id]; !ok {
			delete(m.zone, id)
		}
	}
}

// Run implements scheduler.Executor.
func (m *Monitor) Run(ctx context.Context, t types.Task) (scheduler.Result, error) {
	coin := types.ExtractString(t.Params["coin"])
	if coin == "" {
		coin = market.DefaultCoin
	}
	q, err := m.prices.Price(ctx, coin)
	if err != nil {
		return scheduler.Result{}, err
	}

	out := fmt.Sprintf("%s $%.4f (%+.2f%%)", q.Symbol, q.USD, q.Change24h)
	above, hasAbove := types.ExtractFloat64(t.Params["above"])
	below, hasBelow := types.ExtractFloat64(t.Params["below"])
	if th, ok := types.ExtractFloat64(t.Params["threshold"]); ok && !hasAbove && !hasBelow {
		above, hasAbove = th, true
	}

	if !hasAbove && !hasBelow {
		return scheduler.Result{Output: out, Notify: fmt.Sprintf("📊 %s\n%s", t.Name, market.FormatQuote(q))}, nil
	}

	zone := "inside"
	switch {
	case hasAbove && q.USD >= above:
		zone = "above"
	case hasBelow && q.USD <= below:
		zone = "below"
	}

	m.mu.Lock()
	prev, seen := m.zone[t.ID]
	m.zone[t.ID] = zone
	m.mu.Unlock()

	res := scheduler.Result{Output: out + " " + zone}
	if zone != "inside" && (!seen || prev != zone) {
		limit := above
		verb := "突破"
		if zone == "below" {
			limit, verb = below, "跌破"
		}
		res.Notify = fmt.Sprintf("🚨 %s\n%s %s $%.2f\n%s", t.Name, q.Symbol, verb, limit, market.FormatQuote(q))
	}
	return res, nil
}
