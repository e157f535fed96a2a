package buffer

import "testing"

func TestAppendAndNext(t *testing.T) {
	b := New(nil)
	b.AppendByte(0x01)
	b.AppendUint16(0x0203)
	b.AppendUint32(0x04050607)
	b.AppendUint64(0x08090a0b0c0d0e0f)

	if got := b.Len(); got != 1+2+4+8 {
		t.Fatalf("Len() = %d", got)
	}

	c, err := b.ReadByte()
	if err != nil || c != 0x01 {
		t.Fatalf("ReadByte() = %#x, %v", c, err)
	}

	u16, err := b.ReadUint16()
	if err != nil || u16 != 0x0203 {
		t.Fatalf("ReadUint16() = %#x, %v", u16, err)
	}

	u32, err := b.ReadUint32()
	if err != nil || u32 != 0x04050607 {
		t.Fatalf("ReadUint32() = %#x, %v", u32, err)
	}

	u64, err := b.ReadUint64()
	if err != nil || u64 != 0x08090a0b0c0d0e0f {
		t.Fatalf("ReadUint64() = %#x, %v", u64, err)
	}

	if b.Len() != 0 {
		t.Fatalf("expected buffer drained, Len() = %d", b.Len())
	}
}

func TestNextInsufficient(t *testing.T) {
	b := New([]byte{1, 2, 3})
	if _, ok := b.Next(4); ok {
		t.Fatal("expected Next to fail on insufficient bytes")
	}
}

func TestOverwriteUint32(t *testing.T) {
	b := New(nil)
	idx := b.Size()
	b.AppendUint32(0)
	b.OverwriteUint32(idx, 0xdeadbeef)
	got, err := b.ReadUint32()
	if err != nil || got != 0xdeadbeef {
		t.Fatalf("OverwriteUint32 mismatch: got %#x, err %v", got, err)
	}
}
