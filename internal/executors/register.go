// Package executors provides the built-in task executors: price monitor,
// scheduled browse and generic reminder/heartbeat.
package executors

import (
	"aisatoshi/internal/scheduler"
	"aisatoshi/internal/types"
)

// Deps are the capabilities the executors call. A nil capability leaves its
// executor unregistered; tasks of that kind stay Pending.
type Deps struct {
	Prices  types.PriceSource
	Browser types.Browser
}

// RegisterAll registers every executor whose capability is available.
func RegisterAll(s *scheduler.Scheduler, deps Deps) {
	if deps.Prices != nil {
		m := NewMonitor(deps.Prices)
		s.Register(types.KindMonitor, m.Run)
		s.AddSweeper(m.Sweep)
	}
	if deps.Browser != nil {
		s.Register(types.KindBrowse, NewBrowse(deps.Browser).Run)
	}
	s.Register(types.KindGeneric, Generic)
}
