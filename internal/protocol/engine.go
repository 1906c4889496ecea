// Package protocol implements the Modbus/TCP slave: MBAP framing,
// function-code dispatch, address-map resolution, and exception
// semantics. Grounded on the teacher's internal/modbus/server.go
// (net.Listener accept loop, per-connection goroutine, MBAP header
// parsing), generalized from fixed register arrays to addrmap.Map +
// store.Store so that every byte on the wire flows through the same
// point store the generator loop and UI observers see.
package protocol

import (
	"time"

	"modbus-simulator/internal/addrmap"
	"modbus-simulator/internal/points"
	"modbus-simulator/internal/store"
	"modbus-simulator/internal/value"
)

// overrideHook lets the override controller react to every
// protocol-originated write without the protocol package importing it
// directly (internal/override imports store and points, not protocol).
type overrideHook interface {
	OnRemoteWrite(key string)
}

// Engine resolves Modbus requests for one device against its address
// map and point store.
type Engine struct {
	DeviceID string
	Store    *store.Store
	Map      *addrmap.Map
	Override overrideHook // optional
}

// remoteWrite commits v through the store as a protocol-originated
// write and then runs the device's override policy for that point.
func (e *Engine) remoteWrite(key string, v value.Value) {
	e.Store.Set(e.DeviceID, key, v, store.SourceRemoteWrite, nil)
	if e.Override != nil {
		e.Override.OnRemoteWrite(key)
	}
}

// ReadBits serves FC 01/02 against Coil/DiscreteInput: sparse-tolerant,
// unmapped addresses read as false rather than raising an exception.
func (e *Engine) ReadBits(region points.Region, start, quantity uint16) ([]bool, *Exception) {
	regionMap := e.regionMap(region)
	out := make([]bool, quantity)
	for i := uint16(0); i < quantity; i++ {
		addr := start + i
		defs := regionMap[addr]
		if len(defs) == 0 {
			out[i] = false
			continue
		}
		slot := e.Store.Get(e.DeviceID, defs[0].Key)
		out[i] = slot.Value.Truthy()
	}
	return out, nil
}

// ReadRegisters serves FC 03/04 against Holding/Input: every address in
// the requested range must be mapped, or the whole request fails with
// IllegalDataAddress.
func (e *Engine) ReadRegisters(region points.Region, start, quantity uint16) ([]uint16, *Exception) {
	regionMap := e.regionMap(region)
	out := make([]uint16, quantity)
	for i := uint16(0); i < quantity; i++ {
		addr := start + i
		defs := regionMap[addr]
		if len(defs) == 0 {
			return nil, exc(ExcIllegalDataAddr)
		}

		if defs[0].SemanticType.Is32Bit() {
			d := defs[0]
			slot := e.Store.Get(e.DeviceID, d.Key)
			hi, lo, err := addrmap.Encode32(d, slot.Value.AsNumeric())
			if err != nil {
				return nil, exc(ExcServerFailure)
			}
			if addrmap.WordIndex(d, addr) == 0 {
				out[i] = hi
			} else {
				out[i] = lo
			}
			continue
		}

		reg, err := addrmap.EncodeRegister(defs, func(key string) float64 {
			return e.Store.Get(e.DeviceID, key).Value.AsFloat()
		})
		if err != nil {
			return nil, exc(ExcServerFailure)
		}
		out[i] = reg
	}
	return out, nil
}

// WriteSingleCoil serves FC 05.
func (e *Engine) WriteSingleCoil(address uint16, on bool) *Exception {
	defs := e.Map.Coil[address]
	if len(defs) == 0 {
		return exc(ExcIllegalDataAddr)
	}
	d := defs[0]
	if !d.Access.Writable() {
		return exc(ExcIllegalDataValue)
	}
	e.remoteWrite(d.Key, value.Bool(on))
	return nil
}

// WriteSingleRegister serves FC 06.
func (e *Engine) WriteSingleRegister(address uint16, raw uint16) *Exception {
	defs := e.Map.Holding[address]
	if len(defs) == 0 {
		return exc(ExcIllegalDataAddr)
	}
	for _, d := range defs {
		if !d.Access.Writable() {
			return exc(ExcIllegalDataValue)
		}
	}

	if defs[0].SemanticType.Is32Bit() {
		return e.write32Word(defs[0], address, raw)
	}

	values, err := addrmap.DecodeRegisterWrite(defs, raw)
	if err != nil {
		return exc(ExcServerFailure)
	}
	for key, v := range values {
		e.remoteWrite(key, value.Numeric(v))
	}
	return nil
}

// write32Word handles a write to one word of a 32-bit definition's
// two-register span: read the current paired value, replace the
// affected word, reconstruct and decode the pair, divide by scale,
// write back (spec §4.2).
func (e *Engine) write32Word(d *points.Definition, address uint16, raw uint16) *Exception {
	slot := e.Store.Get(e.DeviceID, d.Key)
	hi, lo, err := addrmap.Encode32(d, slot.Value.AsNumeric())
	if err != nil {
		return exc(ExcServerFailure)
	}
	if addrmap.WordIndex(d, address) == 0 {
		hi = raw
	} else {
		lo = raw
	}
	decoded, err := addrmap.Decode32(d, hi, lo)
	if err != nil {
		return exc(ExcServerFailure)
	}
	e.remoteWrite(d.Key, value.Numeric(decoded))
	return nil
}

// WriteMultipleCoils serves FC 15.
func (e *Engine) WriteMultipleCoils(start, quantity uint16, bits []bool) *Exception {
	for i := uint16(0); i < quantity; i++ {
		if len(e.Map.Coil[start+i]) == 0 {
			return exc(ExcIllegalDataAddr)
		}
	}
	for i := uint16(0); i < quantity; i++ {
		d := e.Map.Coil[start+i][0]
		if !d.Access.Writable() {
			return exc(ExcIllegalDataValue)
		}
	}
	for i := uint16(0); i < quantity; i++ {
		d := e.Map.Coil[start+i][0]
		e.remoteWrite(d.Key, value.Bool(bits[i]))
	}
	return nil
}

// WriteMultipleRegisters serves FC 16. When a 32-bit definition's two
// words both arrive in this request, they are applied together rather
// than via the read-modify-write word path.
func (e *Engine) WriteMultipleRegisters(start, quantity uint16, words []uint16) *Exception {
	for i := uint16(0); i < quantity; i++ {
		if len(e.Map.Holding[start+i]) == 0 {
			return exc(ExcIllegalDataAddr)
		}
	}
	for i := uint16(0); i < quantity; i++ {
		for _, d := range e.Map.Holding[start+i] {
			if !d.Access.Writable() {
				return exc(ExcIllegalDataValue)
			}
		}
	}

	applied := make(map[string]bool)
	for i := uint16(0); i < quantity; i++ {
		addr := start + i
		defs := e.Map.Holding[addr]
		d := defs[0]
		if applied[d.Key] {
			continue
		}

		if d.SemanticType.Is32Bit() {
			other := d.Modbus.Address
			pairAddr := other
			if addrmap.WordIndex(d, addr) == 0 {
				pairAddr = other + 1
			} else {
				pairAddr = other
			}
			if pairAddr >= start && pairAddr < start+quantity {
				hiIdx := other - start
				loIdx := (other + 1) - start
				hi := words[hiIdx]
				lo := words[loIdx]
				decoded, err := addrmap.Decode32(d, hi, lo)
				if err != nil {
					return exc(ExcServerFailure)
				}
				e.remoteWrite(d.Key, value.Numeric(decoded))
				applied[d.Key] = true
				continue
			}
			if ex := e.write32Word(d, addr, words[i]); ex != nil {
				return ex
			}
			applied[d.Key] = true
			continue
		}

		values, err := addrmap.DecodeRegisterWrite(defs, words[i])
		if err != nil {
			return exc(ExcServerFailure)
		}
		for key, v := range values {
			e.remoteWrite(key, value.Numeric(v))
		}
		applied[d.Key] = true
	}
	return nil
}

func (e *Engine) regionMap(r points.Region) map[uint16][]*points.Definition {
	switch r {
	case points.RegionCoil:
		return e.Map.Coil
	case points.RegionDiscreteInput:
		return e.Map.DiscreteInput
	case points.RegionHoldingRegister:
		return e.Map.Holding
	default:
		return e.Map.Input
	}
}

// idleReadTimeout bounds how long a connection handler blocks on a
// partial-frame read before the connection is closed (spec §4.3).
const idleReadTimeout = 60 * time.Second
