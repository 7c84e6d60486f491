package log

import (
	"fmt"
	"strconv"
	"time"
)

type FieldType int

const (
	FieldTypeUnknown FieldType = iota
	FieldTypeBool
	FieldTypeString
	FieldTypeInt
	FieldTypeUint
	FieldTypeError
	FieldTypeDuration
	FieldTypeStringer
	FieldTypeHex32

	// Bus address, "20000010".
	FieldTypeAddr
	// Bus area, both ends included: "20000000-2007ffff".
	FieldTypeRange
	// Frame buffer switch, "20000000>20040000".
	FieldTypeSwitch
)

type ZField struct {
	Type FieldType
	Key  string

	// Depending on Type, one of these is populated. Addresses use Integer,
	// and Second for the other end of a range or switch.
	String    string
	Integer   uint64
	Second    uint32
	Duration  time.Duration
	Error     error
	Interface any
	Boolean   bool
}

func (f *ZField) Value() string {
	switch f.Type {
	case FieldTypeBool:
		return strconv.FormatBool(f.Boolean)
	case FieldTypeString:
		return f.String
	case FieldTypeUint:
		return strconv.FormatUint(f.Integer, 10)
	case FieldTypeInt:
		return strconv.FormatInt(int64(f.Integer), 10)
	case FieldTypeError:
		if f.Error == nil {
			return "<nil>"
		}
		return f.Error.Error()
	case FieldTypeDuration:
		return f.Duration.String()
	case FieldTypeStringer:
		return f.Interface.(fmt.Stringer).String()
	case FieldTypeHex32, FieldTypeAddr:
		return fmt.Sprintf("%08x", uint32(f.Integer))
	case FieldTypeRange:
		return fmt.Sprintf("%08x-%08x", uint32(f.Integer), f.Second)
	case FieldTypeSwitch:
		if f.Integer == 0 {
			return fmt.Sprintf("-->%08x", f.Second)
		}
		return fmt.Sprintf("%08x>%08x", uint32(f.Integer), f.Second)
	}
	return ""
}
