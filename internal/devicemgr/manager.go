// Package devicemgr owns the per-device lifecycle state machine: port
// guarding, wiring the address map / protocol engine / generator loop /
// override controller together, and serializing Start/Stop/Remove.
// Grounded on the teacher's servermgr.Manager (internal/servermgr/manager.go)
// for the "spin up many servers concurrently, one mutex-guarded map"
// shape, and on the PerTopicDeviceSimulator pattern from the mockd
// MQTT-simulator reference (other_examples) for the per-unit
// mutex-serialized Start/Stop/status bookkeeping.
package devicemgr

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"modbus-simulator/internal/addrmap"
	"modbus-simulator/internal/generator"
	"modbus-simulator/internal/override"
	"modbus-simulator/internal/points"
	"modbus-simulator/internal/protocol"
	"modbus-simulator/internal/store"
	"modbus-simulator/internal/value"
)

// Status is a device's lifecycle state (spec §4.4).
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusFaulted  Status = "faulted"
)

// stopGrace bounds how long Stop waits for the listener and generator
// loop to wind down before transitioning to Stopped anyway (spec §4.4).
const stopGrace = 3 * time.Second

// Config describes a device as configured, independent of its runtime state.
type Config struct {
	ID     string
	Name   string
	BindIP string
	Port   int
	Points []points.Definition
}

func (c Config) address() string {
	host := c.BindIP
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// EventType distinguishes the kinds of events a Manager publishes.
type EventType string

const (
	EventDeviceUpdated EventType = "device_updated"
	EventDeviceRemoved EventType = "device_removed"
	EventError         EventType = "error"
)

// Event reports a device lifecycle transition or a terminal error.
type Event struct {
	DeviceID string
	Type     EventType
	Status   Status
	Message  string
}

// device is a Manager's internal bookkeeping for one configured slave.
type device struct {
	mu     sync.Mutex // serializes Start/Stop/Remove for this device
	cfg    Config
	status Status
	lastError string

	cancelRun context.CancelFunc
	runDone   chan struct{}
	server    *protocol.Server
	override  *override.Controller
}

// Manager owns every configured device and is the single place that
// starts, stops, and removes them.
type Manager struct {
	store *store.Store

	mu      sync.RWMutex
	devices map[string]*device

	subMu sync.Mutex
	subs  []chan Event
}

// New builds a Manager backed by st for all devices' runtime point values.
func New(st *store.Store) *Manager {
	return &Manager{store: st, devices: make(map[string]*device)}
}

// Subscribe registers a buffered channel receiving every lifecycle event
// across all devices.
func (m *Manager) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) publish(ev Event) {
	m.subMu.Lock()
	subs := make([]chan Event, len(m.subs))
	copy(subs, m.subs)
	m.subMu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Add registers a new device in the Stopped state. It does not start it.
func (m *Manager) Add(cfg Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("device config missing id")
	}
	if err := points.Validate(cfg.Points); err != nil {
		return fmt.Errorf("device %s: %w", cfg.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[cfg.ID]; exists {
		return fmt.Errorf("device %s already exists", cfg.ID)
	}
	m.devices[cfg.ID] = &device{cfg: cfg, status: StatusStopped}
	return nil
}

func (m *Manager) get(deviceID string) (*device, bool) {
	m.mu.RLock()
	d, ok := m.devices[deviceID]
	m.mu.RUnlock()
	return d, ok
}

// Status reports a device's current lifecycle state and last error, if any.
func (m *Manager) Status(deviceID string) (Status, string, bool) {
	d, ok := m.get(deviceID)
	if !ok {
		return "", "", false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status, d.lastError, true
}

// Start runs a device's port-guard, address-map build, store init, and
// starts its listener + generator loop (spec §4.4, "Start sequence").
func (m *Manager) Start(deviceID string) error {
	d, ok := m.get(deviceID)
	if !ok {
		return fmt.Errorf("unknown device %s", deviceID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusRunning || d.status == StatusStarting {
		return nil
	}

	if probeErr := probePortFree(d.cfg.address()); probeErr != nil {
		d.fault(m, fmt.Sprintf("port %d is already in use: %v", d.cfg.Port, probeErr))
		return probeErr
	}

	addrMap, err := addrmap.Build(d.cfg.Points)
	if err != nil {
		d.fault(m, fmt.Sprintf("address map build failed: %v", err))
		return err
	}

	m.store.Initialize(d.cfg.ID, kindsOf(d.cfg.Points))

	d.status = StatusStarting
	m.publish(Event{DeviceID: d.cfg.ID, Type: EventDeviceUpdated, Status: d.status})

	overrideCtl := override.New(d.cfg.ID, m.store, d.cfg.Points)
	engine := &protocol.Engine{
		DeviceID: d.cfg.ID,
		Store:    m.store,
		Map:      addrMap,
		Override: overrideCtl,
	}
	server := protocol.NewServer(engine)
	if err := server.Listen(d.cfg.address()); err != nil {
		d.fault(m, fmt.Sprintf("listener failed on port %d: %v", d.cfg.Port, err))
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	loop := &generator.Loop{
		DeviceID: d.cfg.ID,
		Store:    m.store,
		Defs:     d.cfg.Points,
		Type:     overrideCtl.EffectiveType,
	}
	go func() {
		defer close(done)
		loop.Run(ctx)
	}()

	d.server = server
	d.override = overrideCtl
	d.cancelRun = cancel
	d.runDone = done
	d.status = StatusRunning
	d.lastError = ""
	m.publish(Event{DeviceID: d.cfg.ID, Type: EventDeviceUpdated, Status: d.status})
	return nil
}

// fault transitions d to Faulted and publishes an error event. Caller
// must already hold d.mu.
func (d *device) fault(m *Manager, message string) {
	d.status = StatusFaulted
	d.lastError = message
	m.publish(Event{DeviceID: d.cfg.ID, Type: EventError, Status: d.status, Message: message})
}

// Stop cancels the listener and generator loop, waits up to stopGrace
// for them to exit, then transitions to Stopped (spec §4.4, "Stop
// sequence").
func (m *Manager) Stop(deviceID string) error {
	d, ok := m.get(deviceID)
	if !ok {
		return fmt.Errorf("unknown device %s", deviceID)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusStopped {
		return nil
	}

	d.status = StatusStopping
	m.publish(Event{DeviceID: d.cfg.ID, Type: EventDeviceUpdated, Status: d.status})

	if d.cancelRun != nil {
		d.cancelRun()
	}
	if d.override != nil {
		d.override.Stop()
	}
	wound := make(chan struct{})
	go func(srv *protocol.Server, runDone chan struct{}) {
		defer close(wound)
		if srv != nil {
			srv.Close()
		}
		if runDone != nil {
			<-runDone
		}
	}(d.server, d.runDone)
	select {
	case <-wound:
	case <-time.After(stopGrace):
	}

	d.server = nil
	d.override = nil
	d.cancelRun = nil
	d.runDone = nil
	d.status = StatusStopped
	d.lastError = ""
	m.publish(Event{DeviceID: d.cfg.ID, Type: EventDeviceUpdated, Status: d.status})
	return nil
}

// Remove ensures the device is stopped, then drops its definitions and
// store subspace entirely (spec §4.4, "Remove sequence").
func (m *Manager) Remove(deviceID string) error {
	if err := m.Stop(deviceID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.devices, deviceID)
	m.mu.Unlock()

	m.store.RemoveDevice(deviceID)
	m.publish(Event{DeviceID: deviceID, Type: EventDeviceRemoved})
	return nil
}

// ManualOverrideChange lets an operator directly set a point's effective
// generator type, canceling any in-flight hold (spec §4.6).
func (m *Manager) ManualOverrideChange(deviceID, key string, newType points.GeneratorType) error {
	d, ok := m.get(deviceID)
	if !ok {
		return fmt.Errorf("unknown device %s", deviceID)
	}
	d.mu.Lock()
	ctl := d.override
	d.mu.Unlock()
	if ctl == nil {
		return fmt.Errorf("device %s is not running", deviceID)
	}
	ctl.ManualChange(key, newType)
	return nil
}

// probePortFree reports an error if another listener already owns address
// (spec §4.4 step 2, "enumerate active local TCP listeners"): a bind-and-
// immediately-release probe is the idiomatic Go equivalent of an
// enumeration, since the OS is the only authoritative source of truth.
func probePortFree(address string) error {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	return l.Close()
}

func kindsOf(defs []points.Definition) map[string]value.Kind {
	kinds := make(map[string]value.Kind, len(defs))
	for _, d := range defs {
		kinds[d.Key] = d.SemanticType.Kind()
	}
	return kinds
}
