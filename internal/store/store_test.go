package store

import (
	"testing"
	"time"

	"modbus-simulator/internal/value"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	st := New()
	deviceID := "dev-1"
	st.Initialize(deviceID, map[string]value.Kind{
		"flag":  value.KindBool,
		"speed": value.KindNumeric,
	})
	return st, deviceID
}

func TestInitializeSeedsZeroValues(t *testing.T) {
	st, dev := newTestStore(t)
	flag := st.Get(dev, "flag")
	if flag.Value.Kind() != value.KindBool || flag.Value.AsBool() != false {
		t.Fatalf("expected zero bool slot, got %+v", flag)
	}
	speed := st.Get(dev, "speed")
	if speed.Value.Kind() != value.KindNumeric || speed.Value.AsNumeric() != 0 {
		t.Fatalf("expected zero numeric slot, got %+v", speed)
	}
}

func TestGetMissingReturnsZeroSlot(t *testing.T) {
	st, dev := newTestStore(t)
	if _, ok := st.TryGet(dev, "nope"); ok {
		t.Fatalf("expected tryGet to report absence")
	}
	slot := st.Get(dev, "nope")
	if slot.Value.Kind() != value.KindNumeric || slot.Value.AsNumeric() != 0 {
		t.Fatalf("expected zero numeric slot for missing key, got %+v", slot)
	}
}

func TestSetTypeGuardRejectsBoolToNumeric(t *testing.T) {
	st, dev := newTestStore(t)
	sub := st.Subscribe(4)

	st.Set(dev, "speed", value.Bool(true), SourceManual, nil)

	slot := st.Get(dev, "speed")
	if slot.Value.AsNumeric() != 0 {
		t.Fatalf("rejected write must not change the slot, got %+v", slot)
	}
	select {
	case ev := <-sub:
		t.Fatalf("rejected write must not emit an event, got %+v", ev)
	default:
	}
}

func TestSetNumericToBoolCoercesViaTruthiness(t *testing.T) {
	st, dev := newTestStore(t)
	st.Set(dev, "flag", value.Numeric(5), SourceManual, nil)
	slot := st.Get(dev, "flag")
	if slot.Value.Kind() != value.KindBool || slot.Value.AsBool() != true {
		t.Fatalf("expected numeric->bool truthiness coercion, got %+v", slot)
	}
}

func TestSetPublishesEvent(t *testing.T) {
	st, dev := newTestStore(t)
	sub := st.Subscribe(4)

	st.Set(dev, "speed", value.Numeric(42), SourceSimulation, nil)

	select {
	case ev := <-sub:
		if ev.DeviceID != dev || ev.Key != "speed" || ev.Slot.Value.AsNumeric() != 42 {
			t.Fatalf("unexpected event: %+v", ev)
		}
		if ev.Slot.Source != SourceSimulation {
			t.Fatalf("expected source simulation, got %v", ev.Slot.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestSlowSubscriberNeverBlocksWriter(t *testing.T) {
	st, dev := newTestStore(t)
	_ = st.Subscribe(1) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			st.Set(dev, "speed", value.Numeric(float64(i)), SourceSimulation, nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer blocked on a full subscriber channel")
	}
}

func TestUpdateOverrideStatusTouchesOnlyStatus(t *testing.T) {
	st, dev := newTestStore(t)
	st.Set(dev, "speed", value.Numeric(7), SourceSimulation, nil)

	status := "Override (5s)"
	st.UpdateOverrideStatus(dev, "speed", &status)

	slot := st.Get(dev, "speed")
	if slot.OverrideStatus == nil || *slot.OverrideStatus != status {
		t.Fatalf("expected override status to be set, got %+v", slot)
	}
	if slot.Value.AsNumeric() != 7 {
		t.Fatalf("override status update must not change value, got %+v", slot)
	}
}

func TestRemoveDeviceDropsSubspace(t *testing.T) {
	st, dev := newTestStore(t)
	st.RemoveDevice(dev)
	if _, ok := st.TryGet(dev, "speed"); ok {
		t.Fatalf("expected removed device's slots to be gone")
	}
}
