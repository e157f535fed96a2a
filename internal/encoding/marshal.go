package encoding

import (
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/nchaourar/amqp10/internal/buffer"
)

// Marshaler is implemented by any value that knows how to encode itself.
type Marshaler interface {
	Marshal(wr *buffer.Buffer) error
}

// Marshal writes the canonical, smallest-width encoding of i to wr.
func Marshal(wr *buffer.Buffer, i any) error {
	switch t := i.(type) {
	case nil:
		wr.AppendByte(byte(TypeCodeNull))
	case bool:
		if t {
			wr.AppendByte(byte(TypeCodeBoolTrue))
		} else {
			wr.AppendByte(byte(TypeCodeBoolFalse))
		}
	case *bool:
		return Marshal(wr, *t)
	case uint:
		writeUint64(wr, uint64(t))
	case *uint:
		writeUint64(wr, uint64(*t))
	case uint64:
		writeUint64(wr, t)
	case *uint64:
		writeUint64(wr, *t)
	case uint32:
		writeUint32(wr, t)
	case *uint32:
		writeUint32(wr, *t)
	case uint16:
		wr.AppendByte(byte(TypeCodeUshort))
		wr.AppendUint16(t)
	case *uint16:
		return Marshal(wr, *t)
	case uint8:
		wr.AppendByte(byte(TypeCodeUbyte))
		wr.AppendByte(t)
	case *uint8:
		return Marshal(wr, *t)
	case int:
		writeInt64(wr, int64(t))
	case *int:
		writeInt64(wr, int64(*t))
	case int8:
		wr.AppendByte(byte(TypeCodeByte))
		wr.AppendByte(byte(t))
	case *int8:
		return Marshal(wr, *t)
	case int16:
		wr.AppendByte(byte(TypeCodeShort))
		wr.AppendUint16(uint16(t))
	case *int16:
		return Marshal(wr, *t)
	case int32:
		writeInt32(wr, t)
	case *int32:
		writeInt32(wr, *t)
	case int64:
		writeInt64(wr, t)
	case *int64:
		writeInt64(wr, *t)
	case float32:
		wr.AppendByte(byte(TypeCodeFloat))
		wr.AppendUint32(math.Float32bits(t))
	case *float32:
		return Marshal(wr, *t)
	case float64:
		wr.AppendByte(byte(TypeCodeDouble))
		wr.AppendUint64(math.Float64bits(t))
	case *float64:
		return Marshal(wr, *t)
	case string:
		return WriteString(wr, t)
	case *string:
		return WriteString(wr, *t)
	case []byte:
		return WriteBinary(wr, t)
	case *[]byte:
		return WriteBinary(wr, *t)
	case time.Time:
		writeTimestamp(wr, t)
	case *time.Time:
		writeTimestamp(wr, *t)
	case map[any]any:
		return writeMap(wr, t)
	case *map[any]any:
		return writeMap(wr, *t)
	case map[string]any:
		return writeMap(wr, t)
	case Annotations:
		return writeMap(wr, map[any]any(t))
	case Fields:
		return writeMap(wr, t)
	case []int8:
		return arrayInt8(t).Marshal(wr)
	case []uint16:
		return arrayUint16(t).Marshal(wr)
	case []int16:
		return arrayInt16(t).Marshal(wr)
	case []uint32:
		return arrayUint32(t).Marshal(wr)
	case []int32:
		return arrayInt32(t).Marshal(wr)
	case []uint64:
		return arrayUint64(t).Marshal(wr)
	case []int64:
		return arrayInt64(t).Marshal(wr)
	case []float32:
		return arrayFloat(t).Marshal(wr)
	case []float64:
		return arrayDouble(t).Marshal(wr)
	case []bool:
		return arrayBool(t).Marshal(wr)
	case []string:
		return arrayString(t).Marshal(wr)
	case []Symbol:
		return arraySymbol(t).Marshal(wr)
	case [][]byte:
		return arrayBinary(t).Marshal(wr)
	case []time.Time:
		return arrayTimestamp(t).Marshal(wr)
	case []UUID:
		return arrayUUID(t).Marshal(wr)
	case List:
		return t.Marshal(wr)
	case Marshaler:
		return t.Marshal(wr)
	default:
		return fmt.Errorf("encoding: marshal not implemented for %T", i)
	}
	return nil
}

func writeInt32(wr *buffer.Buffer, n int32) {
	if n >= -128 && n < 128 {
		wr.AppendByte(byte(TypeCodeSmallint))
		wr.AppendByte(byte(n))
		return
	}
	wr.AppendByte(byte(TypeCodeInt))
	wr.AppendUint32(uint32(n))
}

func writeInt64(wr *buffer.Buffer, n int64) {
	if n >= -128 && n < 128 {
		wr.AppendByte(byte(TypeCodeSmalllong))
		wr.AppendByte(byte(n))
		return
	}
	wr.AppendByte(byte(TypeCodeLong))
	wr.AppendUint64(uint64(n))
}

func writeUint32(wr *buffer.Buffer, n uint32) {
	switch {
	case n == 0:
		wr.AppendByte(byte(TypeCodeUint0))
	case n < 256:
		wr.AppendByte(byte(TypeCodeSmallUint))
		wr.AppendByte(byte(n))
	default:
		wr.AppendByte(byte(TypeCodeUint))
		wr.AppendUint32(n)
	}
}

func writeUint64(wr *buffer.Buffer, n uint64) {
	switch {
	case n == 0:
		wr.AppendByte(byte(TypeCodeUlong0))
	case n < 256:
		wr.AppendByte(byte(TypeCodeSmallUlong))
		wr.AppendByte(byte(n))
	default:
		wr.AppendByte(byte(TypeCodeUlong))
		wr.AppendUint64(n)
	}
}

func writeTimestamp(wr *buffer.Buffer, t time.Time) {
	wr.AppendByte(byte(TypeCodeTimestamp))
	ms := t.UnixNano() / int64(time.Millisecond)
	wr.AppendUint64(uint64(ms))
}

// WriteString writes a UTF-8 string using the smallest str8/str32 form.
func WriteString(wr *buffer.Buffer, s string) error {
	if !utf8.ValidString(s) {
		return NewError(ErrCondDecodeError, "not a valid UTF-8 string")
	}
	l := len(s)
	if l < 256 {
		wr.AppendByte(byte(TypeCodeStr8))
		wr.AppendByte(byte(l))
	} else {
		if uint(l) > math.MaxUint32 {
			return NewError(ErrCondDecodeError, "string too long to encode")
		}
		wr.AppendByte(byte(TypeCodeStr32))
		wr.AppendUint32(uint32(l))
	}
	wr.WriteString(s)
	return nil
}

// WriteBinary writes a binary blob using the smallest vbin8/vbin32 form.
func WriteBinary(wr *buffer.Buffer, b []byte) error {
	l := len(b)
	if l < 256 {
		wr.AppendByte(byte(TypeCodeVbin8))
		wr.AppendByte(byte(l))
	} else {
		if uint(l) > math.MaxUint32 {
			return NewError(ErrCondDecodeError, "binary too long to encode")
		}
		wr.AppendByte(byte(TypeCodeVbin32))
		wr.AppendUint32(uint32(l))
	}
	wr.AppendBytes(b)
	return nil
}

// WriteDescriptor writes the 0x00 <ulong descriptor> prefix for a described type.
func WriteDescriptor(wr *buffer.Buffer, code TypeCode) {
	wr.AppendByte(0x0)
	writeUint64(wr, uint64(code))
}

// WriteSymbolDescriptor writes the 0x00 <symbol descriptor> prefix.
func WriteSymbolDescriptor(wr *buffer.Buffer, name Symbol) {
	wr.AppendByte(0x0)
	_ = name.Marshal(wr)
}

// writeMap accepts any of the map kinds used throughout the codec --
// map[any]any (arbitrary-keyed), map[string]any, and Fields
// (symbol-keyed) -- and encodes insertion order is not preserved for Go
// maps, matching the AMQP map type's unordered semantics.
func writeMap(wr *buffer.Buffer, m any) error {
	startIdx := wr.Size()
	wr.AppendByte(byte(TypeCodeMap32))
	wr.AppendUint32(0) // size placeholder
	wr.AppendUint32(0) // count placeholder

	var pairs int
	switch t := m.(type) {
	case map[any]any:
		pairs = len(t) * 2
		for k, v := range t {
			if err := Marshal(wr, k); err != nil {
				return err
			}
			if err := Marshal(wr, v); err != nil {
				return err
			}
		}
	case map[string]any:
		pairs = len(t) * 2
		for k, v := range t {
			if err := WriteString(wr, k); err != nil {
				return err
			}
			if err := Marshal(wr, v); err != nil {
				return err
			}
		}
	case Fields:
		pairs = len(t) * 2
		for k, v := range t {
			if err := k.Marshal(wr); err != nil {
				return err
			}
			if err := Marshal(wr, v); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("encoding: unsupported map type %T", m)
	}
	if uint(pairs) > math.MaxUint32-4 {
		return NewError(ErrCondDecodeError, "map contains too many elements")
	}

	size := uint32(wr.Size() - startIdx - 1 - 4) // exclude type byte + size field
	wr.OverwriteUint32(startIdx+1, size)
	wr.OverwriteUint32(startIdx+5, uint32(pairs))
	return nil
}

// Field is one element of a described-list composite, with an omit
// flag indicating it should be elided or encoded as null.
type Field struct {
	Value any
	Omit  bool
}

// MarshalComposite encodes a described-list composite: the descriptor,
// followed by the smallest list form holding fields up to the last
// non-omitted one. Trailing omitted fields are dropped entirely; interior
// omitted fields are encoded as null to preserve positional meaning.
func MarshalComposite(wr *buffer.Buffer, code TypeCode, fields []Field) error {
	lastSet := -1
	for i, f := range fields {
		if !f.Omit {
			lastSet = i
		}
	}

	if lastSet == -1 {
		WriteDescriptor(wr, code)
		wr.AppendByte(byte(TypeCodeList0))
		return nil
	}

	WriteDescriptor(wr, code)
	wr.AppendByte(byte(TypeCodeList32))
	sizeIdx := wr.Size()
	wr.AppendUint32(0)
	preFieldLen := wr.Size()
	wr.AppendUint32(uint32(lastSet + 1))

	for _, f := range fields[:lastSet+1] {
		if f.Omit {
			wr.AppendByte(byte(TypeCodeNull))
			continue
		}
		if err := Marshal(wr, f.Value); err != nil {
			return err
		}
	}

	size := uint32(wr.Size() - preFieldLen)
	wr.OverwriteUint32(sizeIdx, size)
	return nil
}
