package protocol

// Exception codes per spec §4.3 / §7.
const (
	ExcIllegalFunction  byte = 1
	ExcIllegalDataAddr  byte = 2
	ExcIllegalDataValue byte = 3
	ExcServerFailure    byte = 4
)

// Exception is a Modbus application-level exception: always local,
// always answered with a normal (non-closing) response frame.
type Exception struct {
	Code byte
}

func (e *Exception) Error() string {
	switch e.Code {
	case ExcIllegalFunction:
		return "illegal function"
	case ExcIllegalDataAddr:
		return "illegal data address"
	case ExcIllegalDataValue:
		return "illegal data value"
	default:
		return "server failure"
	}
}

func exc(code byte) *Exception { return &Exception{Code: code} }
