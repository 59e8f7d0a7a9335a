// Package demo synthesizes movement for a fixed set of sample users so
// the map has something to show without real clients. It only calls the
// public engine operations, exactly like any other client would.
package demo

import (
	"context"
	"log/slog"
	"time"

	"trackify-svr/internal/geo"
	"trackify-svr/internal/presence"
)

const tick = time.Second

type mover struct {
	code    string
	name    string
	lat     float64
	lng     float64
	speed   float64 // m/s
	bearing float64 // degrees
}

// Movers drives the sample users.
type Movers struct {
	engine *presence.Engine
	log    *slog.Logger
	users  []mover
}

func New(engine *presence.Engine, log *slog.Logger) *Movers {
	return &Movers{
		engine: engine,
		log:    log,
		users: []mover{
			{code: "demo01", name: "demo1", lat: 37.5665, lng: 126.9780, speed: 8.0, bearing: 45},   // Seoul
			{code: "demo02", name: "demo2", lat: 35.1796, lng: 129.0756, speed: 9.0, bearing: 135},  // Busan
			{code: "demo03", name: "demo3", lat: 35.8714, lng: 128.6014, speed: 7.5, bearing: 300},  // Daegu
		},
	}
}

// Run connects the sample users and advances them every second until
// ctx is cancelled. Moves feed through UpdateLocation, so they obey the
// same throttle as real traffic.
func (m *Movers) Run(ctx context.Context) {
	for _, u := range m.users {
		if _, err := m.engine.Connect(ctx, u.code, u.name, u.lat, u.lng); err != nil {
			m.log.Warn("demo connect failed", "userCode", u.code, "error", err)
		}
	}
	// one sample runs in working state
	if _, err := m.engine.SetWorking(ctx, "demo02", true); err != nil {
		m.log.Warn("demo working failed", "error", err)
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.step(ctx)
		}
	}
}

func (m *Movers) step(ctx context.Context) {
	for i := range m.users {
		u := &m.users[i]
		u.lat, u.lng = geo.Destination(u.lat, u.lng, u.speed*tick.Seconds(), u.bearing)
		if _, err := m.engine.UpdateLocation(ctx, u.code, u.lat, u.lng); err != nil {
			m.log.Warn("demo move failed", "userCode", u.code, "error", err)
		}
		// drift the bearing so the paths curve
		u.bearing = float64(int(u.bearing+5) % 360)
	}
}
