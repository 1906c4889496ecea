// Package points holds the static, per-device metadata that describes
// what a point is, where it lives on the Modbus wire, and how it is
// driven when nothing writes to it externally.
package points

import (
	"fmt"

	"modbus-simulator/internal/value"
)

// SemanticType is the logical type of a point's value.
type SemanticType string

const (
	TypeBool    SemanticType = "bool"
	TypeInt16   SemanticType = "int16"
	TypeUint16  SemanticType = "uint16"
	TypeInt32   SemanticType = "int32"
	TypeUint32  SemanticType = "uint32"
	TypeFloat   SemanticType = "float"
)

// Kind returns the store-level tagged-value kind this semantic type maps to.
func (t SemanticType) Kind() value.Kind {
	if t == TypeBool {
		return value.KindBool
	}
	return value.KindNumeric
}

// Is32Bit reports whether the type occupies two consecutive register addresses.
func (t SemanticType) Is32Bit() bool {
	switch t {
	case TypeInt32, TypeUint32, TypeFloat:
		return true
	default:
		return false
	}
}

// RegisterSpan returns how many consecutive register addresses the type occupies.
func (t SemanticType) RegisterSpan() int {
	if t.Is32Bit() {
		return 2
	}
	return 1
}

// Access controls whether a point accepts protocol-originated writes.
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "readwrite"
)

func (a Access) Writable() bool { return a == AccessWrite || a == AccessReadWrite }

// Region is the Modbus data region a point's mapping lives in.
type Region string

const (
	RegionCoil           Region = "coil"
	RegionDiscreteInput  Region = "discrete_input"
	RegionHoldingRegister Region = "holding_register"
	RegionInputRegister  Region = "input_register"
)

// MandatoryCoverage reports whether every address in a requested range must
// be mapped for reads to succeed (true for registers, false for sparse-tolerant
// coil-style regions).
func (r Region) MandatoryCoverage() bool {
	return r == RegionHoldingRegister || r == RegionInputRegister
}

func (r Region) IsBitRegion() bool {
	return r == RegionCoil || r == RegionDiscreteInput
}

// BitField locates a sub-range of bits within a single 16-bit register.
type BitField struct {
	StartBit  int
	BitLength int
}

func (b *BitField) Mask() uint16 {
	return uint16((1<<uint(b.BitLength))-1) << uint(b.StartBit)
}

// Extract pulls this field's bits out of a raw register value.
func (b *BitField) Extract(reg uint16) uint16 {
	return (reg >> uint(b.StartBit)) & ((1 << uint(b.BitLength)) - 1)
}

// Pack places a field value into its bit window of reg, leaving other bits untouched.
func (b *BitField) Pack(reg uint16, fieldValue uint16) uint16 {
	cleared := reg &^ b.Mask()
	return cleared | ((fieldValue << uint(b.StartBit)) & b.Mask())
}

// ModbusMapping describes how a point appears on the wire.
type ModbusMapping struct {
	Region   Region
	Address  uint16
	Scale    float64
	BitField *BitField // nil unless this is a packed bitfield point
}

// GeneratorType selects the waveform driving a point absent external writes.
type GeneratorType string

const (
	GenStatic GeneratorType = "static"
	GenSine   GeneratorType = "sine"
	GenRamp   GeneratorType = "ramp"
	GenRandom GeneratorType = "random"
)

// GeneratorConfig parameterizes a point's signal generator.
type GeneratorConfig struct {
	Type          GeneratorType
	Min           float64
	Max           float64
	PeriodSeconds float64
	Step          float64
}

// OverrideMode controls how an external (protocol) write interacts with
// a point's generator.
type OverrideMode string

const (
	OverrideNone        OverrideMode = "none"
	OverrideForceStatic OverrideMode = "force_static"
	OverrideHold        OverrideMode = "hold_for_seconds"
)

// EnumLabels optionally maps the nearest rounded integer value of a point
// to a display string (used by the generator loop's displayValue).
type EnumLabels map[int]string

// Definition is the description of one logical point; it is immutable
// while the device is running.
type Definition struct {
	Key                     string
	SemanticType            SemanticType
	Access                  Access
	Modbus                  ModbusMapping
	Generator               GeneratorConfig
	OverrideMode            OverrideMode
	OverrideDurationSeconds float64
	Enum                    EnumLabels
}

// Validate checks the invariants from spec §3 across a device's full
// point list: unique keys, non-zero scale, sane bitfield windows, and
// bitfield-overlap-freedom for points sharing a (region, address).
func Validate(defs []Definition) error {
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if d.Key == "" {
			return fmt.Errorf("point definition missing key")
		}
		if _, dup := seen[d.Key]; dup {
			return fmt.Errorf("duplicate point key %q", d.Key)
		}
		seen[d.Key] = struct{}{}

		if d.Modbus.Scale == 0 {
			return fmt.Errorf("point %q: scale must be non-zero", d.Key)
		}
		if bf := d.Modbus.BitField; bf != nil {
			if bf.StartBit < 0 || bf.StartBit > 15 {
				return fmt.Errorf("point %q: bitfield startBit %d out of [0,15]", d.Key, bf.StartBit)
			}
			if bf.BitLength < 1 || bf.BitLength > 16 {
				return fmt.Errorf("point %q: bitfield bitLength %d out of [1,16]", d.Key, bf.BitLength)
			}
			if bf.StartBit+bf.BitLength > 16 {
				return fmt.Errorf("point %q: bitfield startBit+bitLength exceeds 16 bits", d.Key)
			}
		}
	}

	if err := validateSharedRegisters(defs); err != nil {
		return err
	}
	return nil
}

// validateSharedRegisters enforces: two point definitions may share the
// same (region, address) only if all of them carry non-overlapping
// bitfields that together sum within 16 bits.
func validateSharedRegisters(defs []Definition) error {
	type key struct {
		region  Region
		address uint16
	}
	byAddr := make(map[key][]Definition)
	for _, d := range defs {
		k := key{d.Modbus.Region, d.Modbus.Address}
		byAddr[k] = append(byAddr[k], d)
	}

	for k, group := range byAddr {
		if len(group) <= 1 {
			continue
		}
		if k.region.IsBitRegion() {
			return fmt.Errorf("address %d in region %s is occupied by %d points; coil/discrete points may not share an address", k.address, k.region, len(group))
		}
		var mask uint16
		for _, d := range group {
			if d.Modbus.BitField == nil {
				return fmt.Errorf("address %d in region %s: point %q has no bitfield but shares the register with %d other points", k.address, k.region, d.Key, len(group)-1)
			}
			bm := d.Modbus.BitField.Mask()
			if mask&bm != 0 {
				return fmt.Errorf("address %d in region %s: bitfield of point %q overlaps another point's bitfield", k.address, k.region, d.Key)
			}
			mask |= bm
		}
	}
	return nil
}
