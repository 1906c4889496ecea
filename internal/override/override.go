// Package override reconciles operator intent ("this register must hold
// the value the client just wrote") with the continuous generator loop.
// Grounded on the per-entity timer/lifecycle bookkeeping in
// other_examples' PerTopicDeviceSimulator (per-unit mutex-guarded
// start/stop with a status struct) and the teacher's utils.ValueCache
// TTL-entry pattern (internal/utils/cache.go), adapted from "time-boxed
// cache entry" to "time-boxed generator-type override".
package override

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"modbus-simulator/internal/points"
	"modbus-simulator/internal/store"
)

const defaultHoldSeconds = 10

type pointState struct {
	mu        sync.Mutex
	effective points.GeneratorType
	holding   bool
	original  points.GeneratorType
	cancel    context.CancelFunc
}

// Controller owns one override state machine per point for a single device.
type Controller struct {
	deviceID string
	store    *store.Store
	defs     map[string]*points.Definition

	mu     sync.Mutex
	states map[string]*pointState
}

// New builds a Controller for a device's points. defs must outlive the
// Controller (they are the device's Start-time point definitions).
func New(deviceID string, st *store.Store, defs []points.Definition) *Controller {
	c := &Controller{
		deviceID: deviceID,
		store:    st,
		defs:     make(map[string]*points.Definition, len(defs)),
		states:   make(map[string]*pointState, len(defs)),
	}
	for i := range defs {
		d := &defs[i]
		c.defs[d.Key] = d
		c.states[d.Key] = &pointState{effective: d.Generator.Type}
	}
	return c
}

// EffectiveType returns the generator type the generator loop should use
// right now for key — this is what lets a HoldForSeconds or ForceStatic
// override transiently (or permanently) freeze a point without mutating
// its original Definition.
func (c *Controller) EffectiveType(key string) points.GeneratorType {
	c.mu.Lock()
	st, ok := c.states[key]
	c.mu.Unlock()
	if !ok {
		return points.GenStatic
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.effective
}

// OnRemoteWrite applies the point's override policy after a
// protocol-originated write. Generator-sourced writes never call this
// (spec §4.5/§4.6: override applies only to source=RemoteWrite).
func (c *Controller) OnRemoteWrite(key string) {
	def, ok := c.defs[key]
	if !ok || def.OverrideMode == points.OverrideNone {
		return
	}

	c.mu.Lock()
	st := c.states[key]
	c.mu.Unlock()
	if st == nil {
		return
	}

	switch def.OverrideMode {
	case points.OverrideForceStatic:
		st.mu.Lock()
		if st.cancel != nil {
			st.cancel()
			st.cancel = nil
		}
		st.effective = points.GenStatic
		st.holding = false
		st.mu.Unlock()
		c.store.UpdateOverrideStatus(c.deviceID, key, nil)

	case points.OverrideHold:
		c.startHold(key, def)
	}
}

func (c *Controller) startHold(key string, def *points.Definition) {
	c.mu.Lock()
	st := c.states[key]
	c.mu.Unlock()

	st.mu.Lock()
	if st.cancel != nil {
		// Restarting an active hold cancels the prior timer but keeps
		// the originally-recorded generator type (spec §4.6).
		st.cancel()
		st.cancel = nil
	} else if !st.holding {
		st.original = st.effective
	}
	st.holding = true
	st.effective = points.GenStatic
	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	st.mu.Unlock()

	duration := def.OverrideDurationSeconds
	if duration <= 0 {
		duration = defaultHoldSeconds
	}
	status := fmt.Sprintf("Override (%ds)", int(math.Ceil(duration)))
	c.store.UpdateOverrideStatus(c.deviceID, key, &status)
	go c.runHoldTimer(ctx, key, st, duration)
}

func (c *Controller) runHoldTimer(ctx context.Context, key string, st *pointState, durationSeconds float64) {
	deadline := time.Now().Add(time.Duration(durationSeconds * float64(time.Second)))
	expiry := time.NewTimer(time.Until(deadline))
	defer expiry.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-expiry.C:
			c.expireHold(key, st)
			return
		case now := <-ticker.C:
			remaining := int(math.Ceil(deadline.Sub(now).Seconds()))
			if remaining <= 0 {
				continue
			}
			status := fmt.Sprintf("Override (%ds)", remaining)
			c.store.UpdateOverrideStatus(c.deviceID, key, &status)
		}
	}
}

func (c *Controller) expireHold(key string, st *pointState) {
	st.mu.Lock()
	stillStatic := st.effective == points.GenStatic
	original := st.original
	st.cancel = nil
	st.holding = false
	if stillStatic {
		st.effective = original
	}
	st.mu.Unlock()

	c.store.UpdateOverrideStatus(c.deviceID, key, nil)
}

// ManualChange cancels any in-flight hold timer on key because the
// operator changed its generator type directly (spec §5, "Cancellation
// and timeouts"), without restoring — the manual choice wins.
func (c *Controller) ManualChange(key string, newType points.GeneratorType) {
	c.mu.Lock()
	st := c.states[key]
	c.mu.Unlock()
	if st == nil {
		return
	}
	st.mu.Lock()
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	st.holding = false
	st.effective = newType
	st.mu.Unlock()
	c.store.UpdateOverrideStatus(c.deviceID, key, nil)
}

// Stop cancels every in-flight hold timer, called when the device stops
// (spec §5, "Cancellation and timeouts").
func (c *Controller) Stop() {
	c.mu.Lock()
	states := make([]*pointState, 0, len(c.states))
	for _, st := range c.states {
		states = append(states, st)
	}
	c.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		if st.cancel != nil {
			st.cancel()
			st.cancel = nil
		}
		st.mu.Unlock()
	}
}
