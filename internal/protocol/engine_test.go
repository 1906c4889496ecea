package protocol

import (
	"testing"
	"time"

	"modbus-simulator/internal/addrmap"
	"modbus-simulator/internal/override"
	"modbus-simulator/internal/points"
	"modbus-simulator/internal/store"
	"modbus-simulator/internal/value"
)

func newEngine(t *testing.T, defs []points.Definition) *Engine {
	t.Helper()
	if err := points.Validate(defs); err != nil {
		t.Fatalf("validate: %v", err)
	}
	m, err := addrmap.Build(defs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	st := store.New()
	kinds := make(map[string]value.Kind, len(defs))
	for _, d := range defs {
		kinds[d.Key] = d.SemanticType.Kind()
	}
	st.Initialize("dev", kinds)
	return &Engine{DeviceID: "dev", Store: st, Map: m}
}

// S1 — single coil round-trip.
func TestS1SingleCoilRoundTrip(t *testing.T) {
	e := newEngine(t, []points.Definition{
		{Key: "c100", SemanticType: points.TypeBool, Access: points.AccessReadWrite,
			Modbus: points.ModbusMapping{Region: points.RegionCoil, Address: 100, Scale: 1}},
	})

	if ex := e.WriteSingleCoil(100, true); ex != nil {
		t.Fatalf("unexpected exception: %v", ex)
	}
	bits, ex := e.ReadBits(points.RegionCoil, 100, 1)
	if ex != nil || !bits[0] {
		t.Fatalf("expected coil true, got bits=%v ex=%v", bits, ex)
	}

	if ex := e.WriteSingleCoil(100, false); ex != nil {
		t.Fatalf("unexpected exception: %v", ex)
	}
	bits, ex = e.ReadBits(points.RegionCoil, 100, 1)
	if ex != nil || bits[0] {
		t.Fatalf("expected coil false, got bits=%v ex=%v", bits, ex)
	}
}

// S2 — unmapped holding read.
func TestS2UnmappedHoldingRead(t *testing.T) {
	e := newEngine(t, nil)
	_, ex := e.ReadRegisters(points.RegionHoldingRegister, 9999, 1)
	if ex == nil || ex.Code != ExcIllegalDataAddr {
		t.Fatalf("expected IllegalDataAddress, got %v", ex)
	}
}

// S3 — read-only write.
func TestS3ReadOnlyWriteRejected(t *testing.T) {
	e := newEngine(t, []points.Definition{
		{Key: "ro", SemanticType: points.TypeUint16, Access: points.AccessRead,
			Modbus: points.ModbusMapping{Region: points.RegionHoldingRegister, Address: 20, Scale: 1}},
	})
	before, _ := e.ReadRegisters(points.RegionHoldingRegister, 20, 1)

	ex := e.WriteSingleRegister(20, 999)
	if ex == nil || ex.Code != ExcIllegalDataValue {
		t.Fatalf("expected IllegalDataValue, got %v", ex)
	}

	after, _ := e.ReadRegisters(points.RegionHoldingRegister, 20, 1)
	if before[0] != after[0] {
		t.Fatalf("read-only write must not change the store value: before=%v after=%v", before, after)
	}
}

// S4 — multi-register write.
func TestS4MultiRegisterWrite(t *testing.T) {
	e := newEngine(t, []points.Definition{
		{Key: "a", SemanticType: points.TypeUint16, Access: points.AccessReadWrite,
			Modbus: points.ModbusMapping{Region: points.RegionHoldingRegister, Address: 10, Scale: 1}},
		{Key: "b", SemanticType: points.TypeUint16, Access: points.AccessReadWrite,
			Modbus: points.ModbusMapping{Region: points.RegionHoldingRegister, Address: 11, Scale: 1}},
	})

	if ex := e.WriteMultipleRegisters(10, 2, []uint16{123, 456}); ex != nil {
		t.Fatalf("unexpected exception: %v", ex)
	}
	out, ex := e.ReadRegisters(points.RegionHoldingRegister, 10, 2)
	if ex != nil || out[0] != 123 || out[1] != 456 {
		t.Fatalf("expected [123 456], got %v ex=%v", out, ex)
	}
}

// S5 — HoldForSeconds override.
func TestS5HoldForSecondsOverride(t *testing.T) {
	defs := []points.Definition{
		{Key: "p30", SemanticType: points.TypeUint16, Access: points.AccessReadWrite,
			Modbus:                  points.ModbusMapping{Region: points.RegionHoldingRegister, Address: 30, Scale: 1},
			Generator:               points.GeneratorConfig{Type: points.GenRandom, Min: 0, Max: 100, PeriodSeconds: 1},
			OverrideMode:            points.OverrideHold,
			OverrideDurationSeconds: 0.2,
		},
	}
	if err := points.Validate(defs); err != nil {
		t.Fatalf("validate: %v", err)
	}
	m, err := addrmap.Build(defs)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	st := store.New()
	st.Initialize("dev", map[string]value.Kind{"p30": value.KindNumeric})

	ctl := override.New("dev", st, defs)
	e := &Engine{DeviceID: "dev", Store: st, Map: m, Override: ctl}

	if ex := e.WriteSingleRegister(30, 555); ex != nil {
		t.Fatalf("unexpected exception: %v", ex)
	}
	if ctl.EffectiveType("p30") != points.GenStatic {
		t.Fatalf("expected effective generator type static immediately after hold write")
	}
	out, ex := e.ReadRegisters(points.RegionHoldingRegister, 30, 1)
	if ex != nil || out[0] != 555 {
		t.Fatalf("expected 555, got %v ex=%v", out, ex)
	}

	time.Sleep(350 * time.Millisecond)
	if ctl.EffectiveType("p30") != points.GenRandom {
		t.Fatalf("expected generator type restored to random after hold expiry")
	}
}

// S6 — packed booleans.
func TestS6PackedBooleans(t *testing.T) {
	defs := []points.Definition{
		{Key: "b0", SemanticType: points.TypeBool, Access: points.AccessReadWrite,
			Modbus: points.ModbusMapping{Region: points.RegionHoldingRegister, Address: 10, Scale: 1, BitField: &points.BitField{StartBit: 0, BitLength: 1}}},
		{Key: "b1", SemanticType: points.TypeBool, Access: points.AccessReadWrite,
			Modbus: points.ModbusMapping{Region: points.RegionHoldingRegister, Address: 10, Scale: 1, BitField: &points.BitField{StartBit: 1, BitLength: 1}}},
		{Key: "b2", SemanticType: points.TypeBool, Access: points.AccessReadWrite,
			Modbus: points.ModbusMapping{Region: points.RegionHoldingRegister, Address: 10, Scale: 1, BitField: &points.BitField{StartBit: 2, BitLength: 1}}},
	}
	e := newEngine(t, defs)

	e.Store.Set("dev", "b0", value.Bool(true), store.SourceManual, nil)
	e.Store.Set("dev", "b1", value.Bool(false), store.SourceManual, nil)
	e.Store.Set("dev", "b2", value.Bool(true), store.SourceManual, nil)

	out, ex := e.ReadRegisters(points.RegionHoldingRegister, 10, 1)
	if ex != nil || out[0] != 0b101 {
		t.Fatalf("expected packed register 0b101, got %v ex=%v", out, ex)
	}

	if ex := e.WriteSingleRegister(10, 0b010); ex != nil {
		t.Fatalf("unexpected exception: %v", ex)
	}
	b0 := e.Store.Get("dev", "b0")
	b1 := e.Store.Get("dev", "b1")
	b2 := e.Store.Get("dev", "b2")
	if b0.Value.AsBool() != false || b1.Value.AsBool() != true || b2.Value.AsBool() != false {
		t.Fatalf("expected extracted bits (false,true,false), got (%v,%v,%v)", b0.Value, b1.Value, b2.Value)
	}
}
