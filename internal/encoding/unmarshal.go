package encoding

import (
	"math"
	"time"

	"github.com/nchaourar/amqp10/internal/buffer"
)

// Unmarshaler is implemented by any value that knows how to decode itself.
type Unmarshaler interface {
	Unmarshal(r *buffer.Buffer) error
}

func readType(r *buffer.Buffer) (TypeCode, error) {
	b, err := r.ReadByte()
	return TypeCode(b), err
}

// tryReadNull consumes a leading null type code if present, reporting
// whether it did so. Used by optional-field decoders.
func tryReadNull(r *buffer.Buffer) bool {
	cp, ok := r.PeekByte()
	if ok && TypeCode(cp) == TypeCodeNull {
		r.Skip(1)
		return true
	}
	return false
}

// Unmarshal decodes the next value from r into i, which must be a
// pointer, a type implementing Unmarshaler, or *any for a generic
// decode into the codec's Go representation of a Value.
func Unmarshal(r *buffer.Buffer, i any) error {
	if tryReadNull(r) {
		return nil
	}

	switch t := i.(type) {
	case Unmarshaler:
		return t.Unmarshal(r)
	case *any:
		v, err := ReadAny(r)
		if err != nil {
			return err
		}
		*t = v
		return nil
	case *bool:
		v, err := readBool(r)
		*t = v
		return err
	case *uint8:
		v, err := readUbyte(r)
		*t = v
		return err
	case *uint16:
		v, err := readUshort(r)
		*t = v
		return err
	case *uint32:
		v, err := readUint(r)
		*t = v
		return err
	case *uint64:
		v, err := readUlong(r)
		*t = v
		return err
	case *int8:
		v, err := readByteSigned(r)
		*t = v
		return err
	case *int16:
		v, err := readShort(r)
		*t = v
		return err
	case *int32:
		v, err := readInt(r)
		*t = v
		return err
	case *int64:
		v, err := readLong(r)
		*t = v
		return err
	case *float32:
		v, err := readFloat(r)
		*t = v
		return err
	case *float64:
		v, err := readDouble(r)
		*t = v
		return err
	case *string:
		v, err := readString(r)
		*t = v
		return err
	case *Symbol:
		v, err := readString(r)
		*t = Symbol(v)
		return err
	case *[]byte:
		v, err := readBinary(r)
		*t = v
		return err
	case *time.Time:
		v, err := readTimestamp(r)
		*t = v
		return err
	case *map[string]any:
		m, err := readMapStringAny(r)
		*t = m
		return err
	case *map[any]any:
		m, err := readMapAnyAny(r)
		*t = m
		return err
	case *Annotations:
		m, err := readMapAnyAny(r)
		*t = Annotations(m)
		return err
	case *Fields:
		m, err := readMapSymbolAny(r)
		*t = m
		return err
	case *[]Symbol:
		var a arraySymbol
		err := a.Unmarshal(r)
		*t = []Symbol(a)
		return err
	case *[]string:
		var a arrayString
		s, err := a.unmarshalSlice(r)
		*t = s
		return err
	case **uint16:
		if *t == nil {
			*t = new(uint16)
		}
		return Unmarshal(r, *t)
	case **uint32:
		if *t == nil {
			*t = new(uint32)
		}
		return Unmarshal(r, *t)
	case **uint64:
		if *t == nil {
			*t = new(uint64)
		}
		return Unmarshal(r, *t)
	case **SenderSettleMode:
		if *t == nil {
			*t = new(SenderSettleMode)
		}
		return (*t).Unmarshal(r)
	case **ReceiverSettleMode:
		if *t == nil {
			*t = new(ReceiverSettleMode)
		}
		return (*t).Unmarshal(r)
	case **Error:
		if *t == nil {
			*t = new(Error)
		}
		return (*t).Unmarshal(r)
	default:
		return FormatError("unmarshal not implemented for %T", i)
	}
}

// ReadAny decodes the next value using the codec's natural Go
// representation: primitives map to their Go type, compound containers
// decode to List / map[any]any, arrays decode to []any whatever their
// element code, and described types decode to *DescribedType.
func ReadAny(r *buffer.Buffer) (any, error) {
	cp, ok := r.PeekByte()
	if !ok {
		return nil, buffer.ErrEOF
	}
	switch TypeCode(cp) {
	case TypeCodeNull:
		r.Skip(1)
		return nil, nil
	case TypeCodeBoolTrue, TypeCodeBoolFalse, TypeCodeBool:
		return readBool(r)
	case TypeCodeUbyte:
		return readUbyte(r)
	case TypeCodeUshort:
		return readUshort(r)
	case TypeCodeUint, TypeCodeSmallUint, TypeCodeUint0:
		return readUint(r)
	case TypeCodeUlong, TypeCodeSmallUlong, TypeCodeUlong0:
		return readUlong(r)
	case TypeCodeByte:
		return readByteSigned(r)
	case TypeCodeShort:
		return readShort(r)
	case TypeCodeInt, TypeCodeSmallint:
		return readInt(r)
	case TypeCodeLong, TypeCodeSmalllong:
		return readLong(r)
	case TypeCodeFloat:
		return readFloat(r)
	case TypeCodeDouble:
		return readDouble(r)
	case TypeCodeTimestamp:
		return readTimestamp(r)
	case TypeCodeUUID:
		var u UUID
		err := u.Unmarshal(r)
		return u, err
	case TypeCodeVbin8, TypeCodeVbin32:
		return readBinary(r)
	case TypeCodeStr8, TypeCodeStr32:
		return readString(r)
	case TypeCodeSym8, TypeCodeSym32:
		s, err := readString(r)
		return Symbol(s), err
	case TypeCodeList0, TypeCodeList8, TypeCodeList32:
		return readList(r)
	case TypeCodeMap8, TypeCodeMap32:
		return readMapAnyAny(r)
	case TypeCodeArray8, TypeCodeArray32:
		return readGenericArray(r)
	case 0x00:
		var d DescribedType
		err := d.Unmarshal(r)
		return &d, err
	default:
		return nil, FormatError("invalid type code %#02x", cp)
	}
}

func readBool(r *buffer.Buffer) (bool, error) {
	cp, err := readType(r)
	if err != nil {
		return false, err
	}
	switch TypeCode(cp) {
	case TypeCodeBoolTrue:
		return true, nil
	case TypeCodeBoolFalse:
		return false, nil
	case TypeCodeBool:
		b, err := r.ReadByte()
		return b != 0, err
	default:
		return false, FormatError("invalid type code %#02x for bool", cp)
	}
}

func readUbyte(r *buffer.Buffer) (uint8, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	if TypeCode(cp) != TypeCodeUbyte {
		return 0, FormatError("invalid type code %#02x for ubyte", cp)
	}
	return r.ReadByte()
}

func readByteSigned(r *buffer.Buffer) (int8, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	if TypeCode(cp) != TypeCodeByte {
		return 0, FormatError("invalid type code %#02x for byte", cp)
	}
	b, err := r.ReadByte()
	return int8(b), err
}

func readUshort(r *buffer.Buffer) (uint16, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	if TypeCode(cp) != TypeCodeUshort {
		return 0, FormatError("invalid type code %#02x for ushort", cp)
	}
	return r.ReadUint16()
}

func readShort(r *buffer.Buffer) (int16, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	if TypeCode(cp) != TypeCodeShort {
		return 0, FormatError("invalid type code %#02x for short", cp)
	}
	v, err := r.ReadUint16()
	return int16(v), err
}

func readUint(r *buffer.Buffer) (uint32, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch TypeCode(cp) {
	case TypeCodeUint0:
		return 0, nil
	case TypeCodeSmallUint:
		b, err := r.ReadByte()
		return uint32(b), err
	case TypeCodeUint:
		return r.ReadUint32()
	default:
		return 0, FormatError("invalid type code %#02x for uint", cp)
	}
}

func readInt(r *buffer.Buffer) (int32, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch TypeCode(cp) {
	case TypeCodeSmallint:
		b, err := r.ReadByte()
		return int32(int8(b)), err
	case TypeCodeInt:
		v, err := r.ReadUint32()
		return int32(v), err
	default:
		return 0, FormatError("invalid type code %#02x for int", cp)
	}
}

func readUlong(r *buffer.Buffer) (uint64, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch TypeCode(cp) {
	case TypeCodeUlong0:
		return 0, nil
	case TypeCodeSmallUlong:
		b, err := r.ReadByte()
		return uint64(b), err
	case TypeCodeUlong:
		return r.ReadUint64()
	default:
		return 0, FormatError("invalid type code %#02x for ulong", cp)
	}
}

func readLong(r *buffer.Buffer) (int64, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	switch TypeCode(cp) {
	case TypeCodeSmalllong:
		b, err := r.ReadByte()
		return int64(int8(b)), err
	case TypeCodeLong:
		v, err := r.ReadUint64()
		return int64(v), err
	default:
		return 0, FormatError("invalid type code %#02x for long", cp)
	}
}

func readFloat(r *buffer.Buffer) (float32, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	if TypeCode(cp) != TypeCodeFloat {
		return 0, FormatError("invalid type code %#02x for float", cp)
	}
	v, err := r.ReadUint32()
	return math.Float32frombits(v), err
}

func readDouble(r *buffer.Buffer) (float64, error) {
	cp, err := readType(r)
	if err != nil {
		return 0, err
	}
	if TypeCode(cp) != TypeCodeDouble {
		return 0, FormatError("invalid type code %#02x for double", cp)
	}
	v, err := r.ReadUint64()
	return math.Float64frombits(v), err
}

func readTimestamp(r *buffer.Buffer) (time.Time, error) {
	cp, err := readType(r)
	if err != nil {
		return time.Time{}, err
	}
	if TypeCode(cp) != TypeCodeTimestamp {
		return time.Time{}, FormatError("invalid type code %#02x for timestamp", cp)
	}
	ms, err := r.ReadUint64()
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

func readString(r *buffer.Buffer) (string, error) {
	cp, err := readType(r)
	if err != nil {
		return "", err
	}
	var size int64
	switch TypeCode(cp) {
	case TypeCodeStr8, TypeCodeSym8:
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		size = int64(b)
	case TypeCodeStr32, TypeCodeSym32:
		n, err := r.ReadUint32()
		if err != nil {
			return "", err
		}
		size = int64(n)
	default:
		return "", FormatError("invalid type code %#02x for string", cp)
	}
	b, ok := r.Next(size)
	if !ok {
		return "", SizeError("declared string length %d exceeds remaining bytes", size)
	}
	return string(b), nil
}

func readBinary(r *buffer.Buffer) ([]byte, error) {
	cp, err := readType(r)
	if err != nil {
		return nil, err
	}
	var size int64
	switch TypeCode(cp) {
	case TypeCodeVbin8:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size = int64(b)
	case TypeCodeVbin32:
		n, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		size = int64(n)
	default:
		return nil, FormatError("invalid type code %#02x for binary", cp)
	}
	b, ok := r.Next(size)
	if !ok {
		return nil, SizeError("declared binary length %d exceeds remaining bytes", size)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// readCompoundHeader reads the size and count prefix shared by list and
// map encodings, returning the remaining byte count of the body.
func readCompoundHeader(r *buffer.Buffer) (size, count uint32, isSmall bool, err error) {
	cp, err := readType(r)
	if err != nil {
		return 0, 0, false, err
	}
	switch TypeCode(cp) {
	case TypeCodeList0:
		return 0, 0, true, nil
	case TypeCodeList8, TypeCodeMap8:
		sz, err := r.ReadByte()
		if err != nil {
			return 0, 0, false, err
		}
		cnt, err := r.ReadByte()
		if err != nil {
			return 0, 0, false, err
		}
		return uint32(sz) - 1, uint32(cnt), true, nil
	case TypeCodeList32, TypeCodeMap32:
		sz, err := r.ReadUint32()
		if err != nil {
			return 0, 0, false, err
		}
		cnt, err := r.ReadUint32()
		if err != nil {
			return 0, 0, false, err
		}
		return sz - 4, cnt, false, nil
	default:
		return 0, 0, false, FormatError("invalid type code %#02x for compound", cp)
	}
}

func readListHeader(r *buffer.Buffer) (uint32, error) {
	_, count, _, err := readCompoundHeader(r)
	return count, err
}

// List is an ordered, heterogeneous AMQP list.
type List []any

func (l List) Marshal(wr *buffer.Buffer) error {
	if len(l) == 0 {
		wr.AppendByte(byte(TypeCodeList0))
		return nil
	}
	wr.AppendByte(byte(TypeCodeList32))
	sizeIdx := wr.Size()
	wr.AppendUint32(0)
	preLen := wr.Size()
	wr.AppendUint32(uint32(len(l)))
	for _, v := range l {
		if err := Marshal(wr, v); err != nil {
			return err
		}
	}
	wr.OverwriteUint32(sizeIdx, uint32(wr.Size()-preLen))
	return nil
}

func (l *List) Unmarshal(r *buffer.Buffer) error {
	v, err := readList(r)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

func readList(r *buffer.Buffer) (List, error) {
	count, err := readListHeader(r)
	if err != nil {
		return nil, err
	}
	out := make(List, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func readMapHeader(r *buffer.Buffer) (uint32, error) {
	_, count, _, err := readCompoundHeader(r)
	if count%2 != 0 {
		return 0, FormatError("odd number of map entries: %d", count)
	}
	return count, err
}

func readMapAnyAny(r *buffer.Buffer) (map[any]any, error) {
	count, err := readMapHeader(r)
	if err != nil {
		return nil, err
	}
	m := make(map[any]any, count/2)
	for i := uint32(0); i < count; i += 2 {
		k, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		v, err := ReadAny(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

func readMapStringAny(r *buffer.Buffer) (map[string]any, error) {
	raw, err := readMapAnyAny(r)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any, len(raw))
	for k, v := range raw {
		switch kt := k.(type) {
		case string:
			m[kt] = v
		case Symbol:
			m[string(kt)] = v
		default:
			return nil, FormatError("map key %T is not a string", k)
		}
	}
	return m, nil
}

func readMapSymbolAny(r *buffer.Buffer) (Fields, error) {
	raw, err := readMapAnyAny(r)
	if err != nil {
		return nil, err
	}
	m := make(Fields, len(raw))
	for k, v := range raw {
		switch kt := k.(type) {
		case Symbol:
			m[kt] = v
		case string:
			m[Symbol(kt)] = v
		default:
			return nil, FormatError("map key %T is not a symbol", k)
		}
	}
	return m, nil
}

// DescribedType pairs a descriptor (Symbol or numeric code) with a body
// value. It is the generic fallback for any composite this codec does
// not know a concrete Go type for.
type DescribedType struct {
	Descriptor any
	Value      any
}

func (d DescribedType) Marshal(wr *buffer.Buffer) error {
	wr.AppendByte(0x0)
	if err := Marshal(wr, d.Descriptor); err != nil {
		return err
	}
	return Marshal(wr, d.Value)
}

func (d *DescribedType) Unmarshal(r *buffer.Buffer) error {
	cp, err := readType(r)
	if err != nil {
		return err
	}
	if cp != 0x00 {
		return FormatError("invalid described-type prefix %#02x", cp)
	}
	descriptor, err := ReadAny(r)
	if err != nil {
		return err
	}
	value, err := ReadAny(r)
	if err != nil {
		return err
	}
	d.Descriptor = descriptor
	d.Value = value
	return nil
}

// PeekDescriptor reports whether the next value is described, that is,
// whether its first byte is the 0x00 descriptor constructor. It neither
// reads nor returns the descriptor itself.
func PeekDescriptor(r *buffer.Buffer) (isDescribed bool) {
	cp, ok := r.PeekByte()
	return ok && cp == 0x00
}

// readGenericArray decodes an array of any supported element type into a
// []any.
func readGenericArray(r *buffer.Buffer) ([]any, error) {
	length, elemCode, err := readArrayHeader(r)
	if err != nil {
		return nil, err
	}
	out := make([]any, length)
	for i := uint32(0); i < length; i++ {
		v, err := readArrayElement(r, elemCode)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// readArrayHeader reads the array size+count+element-code prefix and
// returns the element count and the element's format code.
func readArrayHeader(r *buffer.Buffer) (length uint32, elemCode TypeCode, err error) {
	cp, err := readType(r)
	if err != nil {
		return 0, 0, err
	}
	switch TypeCode(cp) {
	case TypeCodeArray8:
		if _, err := r.ReadByte(); err != nil { // size
			return 0, 0, err
		}
		n, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		length = uint32(n)
	case TypeCodeArray32:
		if _, err := r.ReadUint32(); err != nil { // size
			return 0, 0, err
		}
		n, err := r.ReadUint32()
		if err != nil {
			return 0, 0, err
		}
		length = n
	default:
		return 0, 0, FormatError("invalid type code %#02x for array", cp)
	}
	ec, err := r.ReadByte()
	return length, TypeCode(ec), err
}

// readArrayElement reads one array element whose format code was already
// consumed from the header; compound element width-prefix bytes (for
// list/map elements) still need reading if present, but AMQP arrays of
// arbitrary compounds are rare and unsupported here beyond primitives.
func readArrayElement(r *buffer.Buffer, code TypeCode) (any, error) {
	switch code {
	case TypeCodeNull:
		return nil, nil
	case TypeCodeBoolTrue:
		return true, nil
	case TypeCodeBoolFalse:
		return false, nil
	case TypeCodeBool:
		b, err := r.ReadByte()
		return b != 0, err
	case TypeCodeUbyte:
		return r.ReadByte()
	case TypeCodeByte:
		b, err := r.ReadByte()
		return int8(b), err
	case TypeCodeUshort:
		return r.ReadUint16()
	case TypeCodeShort:
		v, err := r.ReadUint16()
		return int16(v), err
	case TypeCodeUint, TypeCodeUint0, TypeCodeSmallUint:
		return readFixedArrayUint(r, code)
	case TypeCodeInt, TypeCodeSmallint:
		v, err := r.ReadUint32()
		return int32(v), err
	case TypeCodeUlong, TypeCodeUlong0, TypeCodeSmallUlong:
		return readFixedArrayUlong(r, code)
	case TypeCodeLong, TypeCodeSmalllong:
		v, err := r.ReadUint64()
		return int64(v), err
	case TypeCodeFloat:
		v, err := r.ReadUint32()
		return math.Float32frombits(v), err
	case TypeCodeDouble:
		v, err := r.ReadUint64()
		return math.Float64frombits(v), err
	case TypeCodeTimestamp:
		ms, err := r.ReadUint64()
		return time.UnixMilli(int64(ms)).UTC(), err
	case TypeCodeUUID:
		b, ok := r.Next(16)
		if !ok {
			return nil, buffer.ErrEOF
		}
		var u UUID
		copy(u[:], b)
		return u, nil
	case TypeCodeStr8, TypeCodeStr32:
		return readArrayVariable(r, code, false)
	case TypeCodeSym8, TypeCodeSym32:
		s, err := readArrayVariable(r, code, false)
		return Symbol(s.(string)), err
	case TypeCodeVbin8, TypeCodeVbin32:
		return readArrayVariable(r, code, true)
	default:
		return nil, FormatError("unsupported array element code %#02x", code)
	}
}

// these array elements carry no per-element format code, so the width
// follows the array's element code: uint0/ulong0 take no bytes and decode
// as 0, smalluint/smallulong take one byte, and uint/ulong take their
// full width.
func readFixedArrayUint(r *buffer.Buffer, code TypeCode) (uint32, error) {
	if code == TypeCodeUint0 {
		return 0, nil
	}
	if code == TypeCodeSmallUint {
		b, err := r.ReadByte()
		return uint32(b), err
	}
	return r.ReadUint32()
}

func readFixedArrayUlong(r *buffer.Buffer, code TypeCode) (uint64, error) {
	if code == TypeCodeUlong0 {
		return 0, nil
	}
	if code == TypeCodeSmallUlong {
		b, err := r.ReadByte()
		return uint64(b), err
	}
	return r.ReadUint64()
}

func readArrayVariable(r *buffer.Buffer, code TypeCode, binary bool) (any, error) {
	var size int64
	switch code {
	case TypeCodeStr8, TypeCodeSym8, TypeCodeVbin8:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size = int64(b)
	default:
		n, err := r.ReadUint32()
		if err != nil {
			return nil, err
		}
		size = int64(n)
	}
	b, ok := r.Next(size)
	if !ok {
		return nil, SizeError("array element length %d exceeds remaining bytes", size)
	}
	if binary {
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}
	return string(b), nil
}
