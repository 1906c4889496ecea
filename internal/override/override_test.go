package override

import (
	"testing"
	"time"

	"modbus-simulator/internal/points"
	"modbus-simulator/internal/store"
	"modbus-simulator/internal/value"
)

func newTestController(t *testing.T, defs []points.Definition) (*Controller, *store.Store) {
	t.Helper()
	st := store.New()
	kinds := make(map[string]value.Kind, len(defs))
	for _, d := range defs {
		kinds[d.Key] = d.SemanticType.Kind()
	}
	st.Initialize("dev", kinds)
	return New("dev", st, defs), st
}

func TestOnRemoteWriteNoneIsNoOp(t *testing.T) {
	defs := []points.Definition{{Key: "p", Generator: points.GeneratorConfig{Type: points.GenSine}, OverrideMode: points.OverrideNone}}
	ctl, _ := newTestController(t, defs)
	ctl.OnRemoteWrite("p")
	if ctl.EffectiveType("p") != points.GenSine {
		t.Fatalf("expected no override side effect, got %v", ctl.EffectiveType("p"))
	}
}

func TestOnRemoteWriteForceStaticIsPermanent(t *testing.T) {
	defs := []points.Definition{{Key: "p", Generator: points.GeneratorConfig{Type: points.GenRamp}, OverrideMode: points.OverrideForceStatic}}
	ctl, _ := newTestController(t, defs)
	ctl.OnRemoteWrite("p")
	if ctl.EffectiveType("p") != points.GenStatic {
		t.Fatalf("expected static after force-static override, got %v", ctl.EffectiveType("p"))
	}
	time.Sleep(50 * time.Millisecond)
	if ctl.EffectiveType("p") != points.GenStatic {
		t.Fatalf("force-static must remain static, got %v", ctl.EffectiveType("p"))
	}
}

func TestOnRemoteWriteHoldRestoresAfterExpiry(t *testing.T) {
	defs := []points.Definition{{
		Key:                     "p",
		Generator:               points.GeneratorConfig{Type: points.GenRandom},
		OverrideMode:            points.OverrideHold,
		OverrideDurationSeconds: 0.2,
	}}
	ctl, st := newTestController(t, defs)

	ctl.OnRemoteWrite("p")
	if ctl.EffectiveType("p") != points.GenStatic {
		t.Fatalf("expected static during hold, got %v", ctl.EffectiveType("p"))
	}
	slot := st.Get("dev", "p")
	if slot.OverrideStatus == nil {
		t.Fatalf("expected override status to be set during hold")
	}

	time.Sleep(350 * time.Millisecond)
	if ctl.EffectiveType("p") != points.GenRandom {
		t.Fatalf("expected generator type restored after hold expiry, got %v", ctl.EffectiveType("p"))
	}
	slot = st.Get("dev", "p")
	if slot.OverrideStatus != nil {
		t.Fatalf("expected override status cleared after expiry, got %v", *slot.OverrideStatus)
	}
}

func TestRestartingHoldPreservesOriginalType(t *testing.T) {
	defs := []points.Definition{{
		Key:                     "p",
		Generator:               points.GeneratorConfig{Type: points.GenSine},
		OverrideMode:            points.OverrideHold,
		OverrideDurationSeconds: 0.3,
	}}
	ctl, _ := newTestController(t, defs)

	ctl.OnRemoteWrite("p")
	time.Sleep(100 * time.Millisecond)
	ctl.OnRemoteWrite("p") // restart the hold before it expires

	time.Sleep(150 * time.Millisecond)
	if ctl.EffectiveType("p") != points.GenStatic {
		t.Fatalf("expected still holding static after restart, got %v", ctl.EffectiveType("p"))
	}

	time.Sleep(250 * time.Millisecond)
	if ctl.EffectiveType("p") != points.GenSine {
		t.Fatalf("expected original type sine restored, got %v", ctl.EffectiveType("p"))
	}
}

func TestManualChangeCancelsHoldWithoutRestoring(t *testing.T) {
	defs := []points.Definition{{
		Key:                     "p",
		Generator:               points.GeneratorConfig{Type: points.GenRamp},
		OverrideMode:            points.OverrideHold,
		OverrideDurationSeconds: 1,
	}}
	ctl, _ := newTestController(t, defs)

	ctl.OnRemoteWrite("p")
	ctl.ManualChange("p", points.GenSine)
	if ctl.EffectiveType("p") != points.GenSine {
		t.Fatalf("expected manual change to win immediately, got %v", ctl.EffectiveType("p"))
	}

	time.Sleep(1100 * time.Millisecond)
	if ctl.EffectiveType("p") != points.GenSine {
		t.Fatalf("expected manual change to persist past the canceled hold's deadline, got %v", ctl.EffectiveType("p"))
	}
}

func TestStopCancelsInFlightHolds(t *testing.T) {
	defs := []points.Definition{{
		Key:                     "p",
		Generator:               points.GeneratorConfig{Type: points.GenRamp},
		OverrideMode:            points.OverrideHold,
		OverrideDurationSeconds: 1,
	}}
	ctl, _ := newTestController(t, defs)

	ctl.OnRemoteWrite("p")
	ctl.Stop()

	time.Sleep(1100 * time.Millisecond)
	// The timer goroutine was canceled, so expireHold never runs and the
	// point stays wherever Stop left it (static), rather than flipping
	// back to ramp on its own.
	if ctl.EffectiveType("p") != points.GenStatic {
		t.Fatalf("expected Stop to freeze effective type without an unexpected restore, got %v", ctl.EffectiveType("p"))
	}
}
