package protocol

import (
	"encoding/binary"

	"modbus-simulator/internal/points"
)

const (
	fnReadCoils            = 0x01
	fnReadDiscreteInputs    = 0x02
	fnReadHoldingRegisters  = 0x03
	fnReadInputRegisters    = 0x04
	fnWriteSingleCoil       = 0x05
	fnWriteSingleRegister   = 0x06
	fnWriteMultipleCoils    = 0x0F
	fnWriteMultipleRegisters = 0x10
)

const (
	maxBitReadQuantity = 2000
	maxRegReadQuantity = 125
	maxCoilWriteQty    = 1968
	maxRegWriteQty     = 123
)

// handlePDU dispatches one PDU against the engine and returns the
// response PDU bytes (normal or exception).
func (e *Engine) handlePDU(pdu []byte) []byte {
	if len(pdu) == 0 {
		return exceptionFrame(0, ExcIllegalFunction)
	}

	fn := pdu[0]
	switch fn {
	case fnReadCoils:
		return e.handleReadBits(fn, points.RegionCoil, pdu)
	case fnReadDiscreteInputs:
		return e.handleReadBits(fn, points.RegionDiscreteInput, pdu)
	case fnReadHoldingRegisters:
		return e.handleReadRegisters(fn, points.RegionHoldingRegister, pdu)
	case fnReadInputRegisters:
		return e.handleReadRegisters(fn, points.RegionInputRegister, pdu)
	case fnWriteSingleCoil:
		return e.handleWriteSingleCoil(fn, pdu)
	case fnWriteSingleRegister:
		return e.handleWriteSingleRegister(fn, pdu)
	case fnWriteMultipleCoils:
		return e.handleWriteMultipleCoils(fn, pdu)
	case fnWriteMultipleRegisters:
		return e.handleWriteMultipleRegisters(fn, pdu)
	default:
		return exceptionFrame(fn, ExcIllegalFunction)
	}
}

func (e *Engine) handleReadBits(fn byte, region points.Region, pdu []byte) []byte {
	if len(pdu) < 5 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if qty == 0 || qty > maxBitReadQuantity {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}

	bits, ex := e.ReadBits(region, start, qty)
	if ex != nil {
		return exceptionFrame(fn, ex.Code)
	}
	byteCount := (len(bits) + 7) / 8
	data := make([]byte, byteCount)
	for i, b := range bits {
		if b {
			data[i/8] |= 1 << uint(i%8)
		}
	}
	return append([]byte{fn, byte(byteCount)}, data...)
}

func (e *Engine) handleReadRegisters(fn byte, region points.Region, pdu []byte) []byte {
	if len(pdu) < 5 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if qty == 0 || qty > maxRegReadQuantity {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}

	regs, ex := e.ReadRegisters(region, start, qty)
	if ex != nil {
		return exceptionFrame(fn, ex.Code)
	}
	data := make([]byte, len(regs)*2)
	for i, r := range regs {
		binary.BigEndian.PutUint16(data[i*2:i*2+2], r)
	}
	return append([]byte{fn, byte(len(data))}, data...)
}

func (e *Engine) handleWriteSingleCoil(fn byte, pdu []byte) []byte {
	if len(pdu) < 5 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	raw := binary.BigEndian.Uint16(pdu[3:5])
	if raw != 0xFF00 && raw != 0x0000 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	if ex := e.WriteSingleCoil(addr, raw == 0xFF00); ex != nil {
		return exceptionFrame(fn, ex.Code)
	}
	return append([]byte{fn}, pdu[1:5]...)
}

func (e *Engine) handleWriteSingleRegister(fn byte, pdu []byte) []byte {
	if len(pdu) < 5 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	addr := binary.BigEndian.Uint16(pdu[1:3])
	raw := binary.BigEndian.Uint16(pdu[3:5])
	if ex := e.WriteSingleRegister(addr, raw); ex != nil {
		return exceptionFrame(fn, ex.Code)
	}
	return append([]byte{fn}, pdu[1:5]...)
}

func (e *Engine) handleWriteMultipleCoils(fn byte, pdu []byte) []byte {
	if len(pdu) < 6 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	if qty == 0 || qty > maxCoilWriteQty || len(pdu) != 6+byteCount || byteCount != (int(qty)+7)/8 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	payload := pdu[6:]
	bits := make([]bool, qty)
	for i := uint16(0); i < qty; i++ {
		bits[i] = (payload[i/8]>>(i%8))&0x01 == 1
	}
	if ex := e.WriteMultipleCoils(start, qty, bits); ex != nil {
		return exceptionFrame(fn, ex.Code)
	}
	resp := make([]byte, 5)
	resp[0] = fn
	binary.BigEndian.PutUint16(resp[1:3], start)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp
}

func (e *Engine) handleWriteMultipleRegisters(fn byte, pdu []byte) []byte {
	if len(pdu) < 6 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])
	if qty == 0 || qty > maxRegWriteQty || len(pdu) != 6+byteCount || byteCount != int(qty)*2 {
		return exceptionFrame(fn, ExcIllegalDataValue)
	}
	payload := pdu[6:]
	words := make([]uint16, qty)
	for i := uint16(0); i < qty; i++ {
		words[i] = binary.BigEndian.Uint16(payload[i*2 : i*2+2])
	}
	if ex := e.WriteMultipleRegisters(start, qty, words); ex != nil {
		return exceptionFrame(fn, ex.Code)
	}
	resp := make([]byte, 5)
	resp[0] = fn
	binary.BigEndian.PutUint16(resp[1:3], start)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp
}

// exceptionFrame builds an exception PDU: function byte | 0x80, then the
// exception code byte (spec §4.3).
func exceptionFrame(fn byte, code byte) []byte {
	return []byte{fn | 0x80, code}
}
