// Package store is the authoritative, concurrent point-value substrate.
// It is the single source of truth: the protocol engine, the generator
// loop, and UI observers all read and write through it, the way the
// teacher's modbus.Server held its register arrays behind one mutex —
// generalized here to a keyed, typed, per-device map.
package store

import (
	"sync"
	"time"

	"modbus-simulator/internal/value"
)

// Source records who last wrote a slot.
type Source string

const (
	SourceManual     Source = "manual"
	SourceSimulation Source = "simulation"
	SourceRemoteWrite Source = "remote_write"
)

// Slot is one runtime point value.
type Slot struct {
	Value          value.Value
	ExpectedKind   value.Kind
	Source         Source
	LastUpdated    time.Time
	DisplayValue   *string
	OverrideStatus *string
}

func (s Slot) clone() Slot {
	c := s
	if s.DisplayValue != nil {
		d := *s.DisplayValue
		c.DisplayValue = &d
	}
	if s.OverrideStatus != nil {
		o := *s.OverrideStatus
		c.OverrideStatus = &o
	}
	return c
}

// Event is a change notification: (deviceID, key, slot snapshot).
type Event struct {
	DeviceID string
	Key      string
	Slot     Slot
}

type deviceSpace struct {
	mu    sync.RWMutex
	slots map[string]*slotEntry
}

type slotEntry struct {
	mu   sync.Mutex
	slot Slot
}

// Store is the concurrent point-value substrate.
type Store struct {
	mu      sync.RWMutex
	devices map[string]*deviceSpace

	subMu sync.Mutex
	subs  []subscriber
}

type subscriber struct {
	ch chan Event
}

// New returns an empty Store.
func New() *Store {
	return &Store{devices: make(map[string]*deviceSpace)}
}

// Initialize seeds slots with type-appropriate zero values for every
// definition, overwriting any prior state for this device.
func (st *Store) Initialize(deviceID string, kinds map[string]value.Kind) {
	ds := &deviceSpace{slots: make(map[string]*slotEntry, len(kinds))}
	now := time.Now().UTC()
	for key, kind := range kinds {
		ds.slots[key] = &slotEntry{slot: Slot{
			Value:        value.Zero(kind),
			ExpectedKind: kind,
			Source:       SourceManual,
			LastUpdated:  now,
		}}
	}

	st.mu.Lock()
	st.devices[deviceID] = ds
	st.mu.Unlock()
}

// RemoveDevice atomically drops a device's subspace.
func (st *Store) RemoveDevice(deviceID string) {
	st.mu.Lock()
	delete(st.devices, deviceID)
	st.mu.Unlock()
}

func (st *Store) space(deviceID string) *deviceSpace {
	st.mu.RLock()
	ds := st.devices[deviceID]
	st.mu.RUnlock()
	return ds
}

// Get returns a snapshot of the slot, or a zero-initialized Numeric slot
// if the device/key is unknown.
func (st *Store) Get(deviceID, key string) Slot {
	slot, ok := st.TryGet(deviceID, key)
	if !ok {
		return Slot{Value: value.Zero(value.KindNumeric), ExpectedKind: value.KindNumeric}
	}
	return slot
}

// TryGet returns the slot and true, or the zero Slot and false if absent.
func (st *Store) TryGet(deviceID, key string) (Slot, bool) {
	ds := st.space(deviceID)
	if ds == nil {
		return Slot{}, false
	}
	ds.mu.RLock()
	e, ok := ds.slots[key]
	ds.mu.RUnlock()
	if !ok {
		return Slot{}, false
	}
	e.mu.Lock()
	snap := e.slot.clone()
	e.mu.Unlock()
	return snap, true
}

// Set type-guards and applies a write. A Numeric value written to a Bool
// slot is coerced via truthiness; any other kind mismatch is rejected
// silently (store-level type-guard rejection, spec §7) and emits no event.
func (st *Store) Set(deviceID, key string, v value.Value, source Source, displayValue *string) {
	ds := st.space(deviceID)
	if ds == nil {
		return
	}
	ds.mu.RLock()
	e, ok := ds.slots[key]
	ds.mu.RUnlock()
	if !ok {
		return
	}

	coerced, ok := v.CoerceTo(e.slot.ExpectedKind)
	if !ok {
		return
	}

	e.mu.Lock()
	e.slot.Value = coerced
	e.slot.Source = source
	e.slot.LastUpdated = time.Now().UTC()
	e.slot.DisplayValue = displayValue
	snap := e.slot.clone()
	e.mu.Unlock()

	st.publish(Event{DeviceID: deviceID, Key: key, Slot: snap})
}

// UpdateOverrideStatus touches only OverrideStatus and emits a change event.
func (st *Store) UpdateOverrideStatus(deviceID, key string, status *string) {
	ds := st.space(deviceID)
	if ds == nil {
		return
	}
	ds.mu.RLock()
	e, ok := ds.slots[key]
	ds.mu.RUnlock()
	if !ok {
		return
	}

	e.mu.Lock()
	e.slot.OverrideStatus = status
	snap := e.slot.clone()
	e.mu.Unlock()

	st.publish(Event{DeviceID: deviceID, Key: key, Slot: snap})
}

// Subscribe registers a buffered channel that receives change events
// across all devices. Subscribers must not call back into the Store
// synchronously from the delivery path. Events are sent without
// blocking, so a slow subscriber cannot block writers; an event that
// finds the subscriber's buffer full is dropped for that subscriber.
func (st *Store) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	st.subMu.Lock()
	st.subs = append(st.subs, subscriber{ch: ch})
	st.subMu.Unlock()
	return ch
}

func (st *Store) publish(ev Event) {
	st.subMu.Lock()
	subs := make([]subscriber, len(st.subs))
	copy(subs, st.subs)
	st.subMu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			// Slow subscriber: drop rather than block the writer.
		}
	}
}
