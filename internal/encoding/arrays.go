package encoding

import (
	"math"
	"time"

	"github.com/nchaourar/amqp10/internal/buffer"
)

// array8TLSize / array32TLSize are the type+length-prefix sizes for the
// two array width classes (8-bit and 32-bit element counts).
const (
	array8TLSize  = 2
	array32TLSize = 5
)

func writeArrayHeader(wr *buffer.Buffer, length, typeSize int, code TypeCode) {
	size := length * typeSize
	if size+array8TLSize <= 0xff {
		wr.AppendByte(byte(TypeCodeArray8))
		wr.AppendByte(byte(size + array8TLSize))
		wr.AppendByte(byte(length))
		wr.AppendByte(byte(code))
		return
	}
	wr.AppendByte(byte(TypeCodeArray32))
	wr.AppendUint32(uint32(size + array32TLSize))
	wr.AppendUint32(uint32(length))
	wr.AppendByte(byte(code))
}

// writeVariableArrayHeader is used for arrays of strings/symbols/binary
// whose per-element size is not fixed.
func writeVariableArrayHeader(wr *buffer.Buffer, length, elementsSizeTotal int, code TypeCode) {
	elementTypeSize := 1
	if code&0xf0 == 0xb0 {
		elementTypeSize = 4
	}
	size := elementsSizeTotal + length*elementTypeSize
	if size+array8TLSize <= 0xff {
		wr.AppendByte(byte(TypeCodeArray8))
		wr.AppendByte(byte(size + array8TLSize))
		wr.AppendByte(byte(length))
		wr.AppendByte(byte(code))
		return
	}
	wr.AppendByte(byte(TypeCodeArray32))
	wr.AppendUint32(uint32(size + array32TLSize))
	wr.AppendUint32(uint32(length))
	wr.AppendByte(byte(code))
}

type arrayInt8 []int8

func (a arrayInt8) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 1, TypeCodeByte)
	for _, v := range a {
		wr.AppendByte(byte(v))
	}
	return nil
}

type arrayUint16 []uint16

func (a arrayUint16) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 2, TypeCodeUshort)
	for _, v := range a {
		wr.AppendUint16(v)
	}
	return nil
}

type arrayInt16 []int16

func (a arrayInt16) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 2, TypeCodeShort)
	for _, v := range a {
		wr.AppendUint16(uint16(v))
	}
	return nil
}

type arrayUint32 []uint32

func (a arrayUint32) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 4, TypeCodeUint)
	for _, v := range a {
		wr.AppendUint32(v)
	}
	return nil
}

type arrayInt32 []int32

func (a arrayInt32) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 4, TypeCodeInt)
	for _, v := range a {
		wr.AppendUint32(uint32(v))
	}
	return nil
}

type arrayUint64 []uint64

func (a arrayUint64) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 8, TypeCodeUlong)
	for _, v := range a {
		wr.AppendUint64(v)
	}
	return nil
}

type arrayInt64 []int64

func (a arrayInt64) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 8, TypeCodeLong)
	for _, v := range a {
		wr.AppendUint64(uint64(v))
	}
	return nil
}

type arrayFloat []float32

func (a arrayFloat) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 4, TypeCodeFloat)
	for _, v := range a {
		wr.AppendUint32(math.Float32bits(v))
	}
	return nil
}

type arrayDouble []float64

func (a arrayDouble) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 8, TypeCodeDouble)
	for _, v := range a {
		wr.AppendUint64(math.Float64bits(v))
	}
	return nil
}

type arrayBool []bool

func (a arrayBool) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 1, TypeCodeBool)
	for _, v := range a {
		if v {
			wr.AppendByte(1)
		} else {
			wr.AppendByte(0)
		}
	}
	return nil
}

type arrayString []string

func (a arrayString) Marshal(wr *buffer.Buffer) error {
	total := 0
	for _, s := range a {
		total += len(s)
	}
	writeVariableArrayHeader(wr, len(a), total, TypeCodeStr32)
	for _, s := range a {
		wr.AppendUint32(uint32(len(s)))
		wr.WriteString(s)
	}
	return nil
}

func (a *arrayString) unmarshalSlice(r *buffer.Buffer) ([]string, error) {
	length, code, err := readArrayHeader(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, length)
	for i := range out {
		v, err := readArrayVariable(r, code, false)
		if err != nil {
			return nil, err
		}
		out[i] = v.(string)
	}
	return out, nil
}

type arraySymbol []Symbol

func (a arraySymbol) Marshal(wr *buffer.Buffer) error {
	total := 0
	for _, s := range a {
		total += len(s)
	}
	writeVariableArrayHeader(wr, len(a), total, TypeCodeSym32)
	for _, s := range a {
		wr.AppendUint32(uint32(len(s)))
		wr.WriteString(string(s))
	}
	return nil
}

func (a *arraySymbol) Unmarshal(r *buffer.Buffer) error {
	length, code, err := readArrayHeader(r)
	if err != nil {
		return err
	}
	out := make([]Symbol, length)
	for i := range out {
		v, err := readArrayVariable(r, code, false)
		if err != nil {
			return err
		}
		out[i] = Symbol(v.(string))
	}
	*a = out
	return nil
}

type arrayBinary [][]byte

func (a arrayBinary) Marshal(wr *buffer.Buffer) error {
	total := 0
	for _, b := range a {
		total += len(b)
	}
	writeVariableArrayHeader(wr, len(a), total, TypeCodeVbin32)
	for _, b := range a {
		wr.AppendUint32(uint32(len(b)))
		wr.AppendBytes(b)
	}
	return nil
}

type arrayTimestamp []time.Time

func (a arrayTimestamp) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 8, TypeCodeTimestamp)
	for _, t := range a {
		ms := t.UnixNano() / int64(time.Millisecond)
		wr.AppendUint64(uint64(ms))
	}
	return nil
}

type arrayUUID []UUID

func (a arrayUUID) Marshal(wr *buffer.Buffer) error {
	writeArrayHeader(wr, len(a), 16, TypeCodeUUID)
	for _, u := range a {
		wr.AppendBytes(u[:])
	}
	return nil
}
