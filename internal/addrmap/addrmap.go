// Package addrmap builds the per-device Modbus address index and
// implements the wire-level value codec: scaling, 32-bit word-pair
// splitting (ABCD, high word at the low address), and bitfield packing.
package addrmap

import (
	"fmt"
	"math"

	"modbus-simulator/internal/points"
)

// Map indexes every occupied address in each region to the list of
// point definitions that contribute to it. A list longer than one
// element only occurs for holding/input registers shared by multiple
// bitfield points.
type Map struct {
	Coil          map[uint16][]*points.Definition
	DiscreteInput map[uint16][]*points.Definition
	Holding       map[uint16][]*points.Definition
	Input         map[uint16][]*points.Definition
}

func empty() *Map {
	return &Map{
		Coil:          make(map[uint16][]*points.Definition),
		DiscreteInput: make(map[uint16][]*points.Definition),
		Input:         make(map[uint16][]*points.Definition),
		Holding:       make(map[uint16][]*points.Definition),
	}
}

func (m *Map) byRegion(r points.Region) map[uint16][]*points.Definition {
	switch r {
	case points.RegionCoil:
		return m.Coil
	case points.RegionDiscreteInput:
		return m.DiscreteInput
	case points.RegionHoldingRegister:
		return m.Holding
	case points.RegionInputRegister:
		return m.Input
	default:
		return nil
	}
}

// Build constructs an address map from a device's point definitions.
// points.Validate should be called first; Build assumes the definitions
// are already internally consistent.
func Build(defs []points.Definition) (*Map, error) {
	m := empty()
	// index by pointer into a stable backing slice so all region maps
	// reference the same Definition value.
	backing := make([]points.Definition, len(defs))
	copy(backing, defs)

	for i := range backing {
		d := &backing[i]
		region := m.byRegion(d.Modbus.Region)
		if region == nil {
			return nil, fmt.Errorf("point %q: unknown region %q", d.Key, d.Modbus.Region)
		}

		if d.Modbus.Region.IsBitRegion() {
			region[d.Modbus.Address] = append(region[d.Modbus.Address], d)
			continue
		}

		if d.SemanticType.Is32Bit() {
			region[d.Modbus.Address] = append(region[d.Modbus.Address], d)
			region[d.Modbus.Address+1] = append(region[d.Modbus.Address+1], d)
			continue
		}
		region[d.Modbus.Address] = append(region[d.Modbus.Address], d)
	}
	return m, nil
}

// EncodeRegister computes the 16-bit register value for a single-register
// holding/input address: bitfield points OR their windows together,
// otherwise the lone definition's scaled value is rounded into a uint16
// (signed types pass through int16's two's-complement bit pattern).
func EncodeRegister(defs []*points.Definition, raw func(key string) float64) (uint16, error) {
	if len(defs) == 0 {
		return 0, fmt.Errorf("no definitions for register")
	}
	if defs[0].Modbus.BitField != nil {
		var reg uint16
		for _, d := range defs {
			bf := d.Modbus.BitField
			if bf == nil {
				return 0, fmt.Errorf("point %q: expected bitfield in shared register", d.Key)
			}
			rounded := uint16(math.Round(raw(d.Key)))
			reg = bf.Pack(reg, rounded&uint16((1<<uint(bf.BitLength))-1))
		}
		return reg, nil
	}

	d := defs[0]
	scaled := d.Modbus.Scale * raw(d.Key)
	return scaleToUint16(d.SemanticType, scaled)
}

func scaleToUint16(t points.SemanticType, scaled float64) (uint16, error) {
	switch t {
	case points.TypeInt16:
		return uint16(int16(math.Round(scaled))), nil
	default:
		r := math.Round(scaled)
		if r < 0 {
			r = 0
		}
		if r > 65535 {
			r = 65535
		}
		return uint16(r), nil
	}
}

// DecodeRegisterWrite applies an incoming 16-bit register write to each
// contributing definition, returning key->storedNumeric pairs to commit.
// For a bitfield register, each definition independently extracts its own
// bit window (per spec §9's open-question resolution) and never scales.
// For a single scaled register, the raw register is divided by scale.
func DecodeRegisterWrite(defs []*points.Definition, incoming uint16) (map[string]float64, error) {
	out := make(map[string]float64, len(defs))
	if len(defs) == 0 {
		return out, fmt.Errorf("no definitions for register")
	}
	if defs[0].Modbus.BitField != nil {
		for _, d := range defs {
			bf := d.Modbus.BitField
			out[d.Key] = float64(bf.Extract(incoming))
		}
		return out, nil
	}

	d := defs[0]
	var signed float64
	switch d.SemanticType {
	case points.TypeInt16:
		signed = float64(int16(incoming))
	default:
		signed = float64(incoming)
	}
	out[d.Key] = signed / d.Modbus.Scale
	return out, nil
}

// Encode32 encodes a 32-bit definition's scaled value into two big-endian
// words, high word first (ABCD word order, fixed per spec §9).
func Encode32(d *points.Definition, raw float64) (hi, lo uint16, err error) {
	scaled := d.Modbus.Scale * raw
	var bits uint32
	switch d.SemanticType {
	case points.TypeFloat:
		if math.IsNaN(scaled) || math.IsInf(scaled, 0) {
			return 0, 0, fmt.Errorf("point %q: non-finite float32 value", d.Key)
		}
		bits = math.Float32bits(float32(scaled))
	case points.TypeInt32:
		bits = uint32(int32(math.Round(scaled)))
	case points.TypeUint32:
		r := math.Round(scaled)
		if r < 0 {
			r = 0
		}
		bits = uint32(r)
	default:
		return 0, 0, fmt.Errorf("point %q: not a 32-bit semantic type", d.Key)
	}
	return uint16(bits >> 16), uint16(bits & 0xFFFF), nil
}

// Decode32 reconstructs the scaled-down numeric value from a 32-bit
// big-endian word pair (hi at the lower address).
func Decode32(d *points.Definition, hi, lo uint16) (float64, error) {
	bits := uint32(hi)<<16 | uint32(lo)
	var raw float64
	switch d.SemanticType {
	case points.TypeFloat:
		raw = float64(math.Float32frombits(bits))
	case points.TypeInt32:
		raw = float64(int32(bits))
	case points.TypeUint32:
		raw = float64(bits)
	default:
		return 0, fmt.Errorf("point %q: not a 32-bit semantic type", d.Key)
	}
	return raw / d.Modbus.Scale, nil
}

// WordIndex returns which half (0=high/low address, 1=low/high address)
// requestedAddress refers to within a 32-bit definition's two-word span.
func WordIndex(d *points.Definition, requestedAddress uint16) int {
	return int(requestedAddress - d.Modbus.Address)
}
