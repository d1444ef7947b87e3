package scte35

import (
	"testing"
)

func TestBitReaderSingleBits(t *testing.T) {
	t.Parallel()
	r := newBitReader([]byte{0xA5}) // 10100101
	expected := []bool{true, false, true, false, false, true, false, true}
	for i, want := range expected {
		got := r.readBit()
		if got != want {
			t.Errorf("bit %d: got %v, want %v", i, got, want)
		}
	}
	if r.bitsLeft() != 0 {
		t.Errorf("bitsLeft: got %d, want 0", r.bitsLeft())
	}
}

func TestBitReaderUint32(t *testing.T) {
	t.Parallel()
	r := newBitReader([]byte{0xAB, 0xCD})
	got := r.readUint32(12)
	if got != 0xABC {
		t.Errorf("readUint32(12): got 0x%X, want 0xABC", got)
	}
	got = r.readUint32(4)
	if got != 0xD {
		t.Errorf("readUint32(4): got 0x%X, want 0xD", got)
	}
}

func TestBitReaderUint64(t *testing.T) {
	t.Parallel()
	// 33-bit value: 0x1FFFFFFFF = all ones
	r := newBitReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x80})
	got := r.readUint64(33)
	if got != 0x1FFFFFFFF {
		t.Errorf("readUint64(33): got 0x%X, want 0x1FFFFFFFF", got)
	}
}

func TestBitReaderBytes(t *testing.T) {
	t.Parallel()
	r := newBitReader([]byte{0x01, 0x02, 0x03, 0x04})
	r.skip(8)
	got := r.readBytes(2)
	if got[0] != 0x02 || got[1] != 0x03 {
		t.Errorf("readBytes: got %v, want [0x02, 0x03]", got)
	}
}

func TestBitReaderOverflow(t *testing.T) {
	t.Parallel()
	r := newBitReader([]byte{0xFF})
	r.skip(8)
	r.readBit()
	if !r.overflow {
		t.Error("expected overflow after reading past end")
	}
}

func TestBitReaderSkip(t *testing.T) {
	t.Parallel()
	r := newBitReader([]byte{0xFF, 0x00, 0xAB})
	r.skip(16)
	if got := r.readUint32(8); got != 0xAB {
		t.Errorf("got 0x%02X, want 0xAB", got)
	}
}
