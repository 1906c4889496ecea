// Package generator drives the periodic recomputation of non-static
// point values. Grounded on the teacher's ticker-driven periodic-apply
// pattern (internal/servermgr/manager.go's time.NewTicker loop and
// cmd/server/main.go's simulator.Start/nextRow), generalized from
// "replay the next CSV row" to "recompute one of four deterministic
// waveforms as a function of wall-clock time".
package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"modbus-simulator/internal/points"
	"modbus-simulator/internal/store"
	"modbus-simulator/internal/value"
)

// DefaultTick is the default per-device tick cadence (spec §4.5).
const DefaultTick = 500 * time.Millisecond

// TypeGetter returns the current effective generator type for a point —
// the override controller may have transiently switched it to static,
// so the loop always asks rather than trusting the static Definition.
type TypeGetter func(key string) points.GeneratorType

// Loop periodically recomputes and commits values for a device's
// non-static points.
type Loop struct {
	DeviceID string
	Store    *store.Store
	Defs     []points.Definition
	Tick     time.Duration
	Type     TypeGetter

	rng *rand.Rand
}

// Run blocks, ticking until ctx is canceled.
func (l *Loop) Run(ctx context.Context) {
	tick := l.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	if l.rng == nil {
		l.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			l.tick(t)
		}
	}
}

func (l *Loop) tick(now time.Time) {
	for i := range l.Defs {
		d := &l.Defs[i]
		genType := d.Generator.Type
		if l.Type != nil {
			genType = l.Type(d.Key)
		}
		if genType == points.GenStatic {
			continue
		}

		raw, ok := compute(genType, d.Generator, now, l.rng)
		if !ok {
			continue
		}

		var v value.Value
		if d.SemanticType == points.TypeBool {
			v = value.Bool(raw >= 0.5)
		} else {
			v = value.Numeric(raw)
		}
		display := formatDisplay(d, raw)
		l.Store.Set(l.DeviceID, d.Key, v, store.SourceSimulation, &display)
	}
}

// compute evaluates one waveform sample at time t (spec §4.5).
func compute(genType points.GeneratorType, cfg points.GeneratorConfig, t time.Time, rng *rand.Rand) (float64, bool) {
	period := cfg.PeriodSeconds
	if period <= 0 {
		period = 1
	}
	span := cfg.Max - cfg.Min

	switch genType {
	case points.GenRamp:
		seconds := secondsSinceEpoch(t)
		progress := math.Mod(seconds, period) / period
		return cfg.Min + progress*span, true
	case points.GenSine:
		seconds := secondsSinceEpoch(t)
		return (cfg.Max+cfg.Min)/2 + (span/2)*math.Sin(2*math.Pi*seconds/period), true
	case points.GenRandom:
		return cfg.Min + rng.Float64()*span, true
	default:
		return 0, false
	}
}

func secondsSinceEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// formatDisplay resolves an enum label for the nearest integer value if
// the point carries one; otherwise a bool point formats as true/false
// (threshold 0.5) and any other point as the numeric with two fraction
// digits (spec §4.5).
func formatDisplay(d *points.Definition, raw float64) string {
	if len(d.Enum) > 0 {
		nearest := int(math.Round(raw))
		if label, ok := d.Enum[nearest]; ok {
			return label
		}
	}
	if d.SemanticType == points.TypeBool {
		return fmt.Sprintf("%t", raw >= 0.5)
	}
	return fmt.Sprintf("%.2f", raw)
}
