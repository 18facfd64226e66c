package bin

import (
	"bytes"
	"testing"
)

func TestAppendLV(t *testing.T) {
	got := AppendLV([]byte{0xaa}, []byte("hi"))
	want := []byte{0xaa, 0x00, 0x02, 'h', 'i'}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %x, want %x", got, want)
	}
}

func TestU64RoundTrip(t *testing.T) {
	b := AppendU64BE(nil, 0x0102030405060708)
	if U64BE(b) != 0x0102030405060708 {
		t.Fatalf("unexpected decode %x", b)
	}
	var fixed [8]byte
	PutU64BE(fixed[:], 7)
	if fixed[7] != 7 {
		t.Fatalf("unexpected encode %x", fixed)
	}
}

func TestU32(t *testing.T) {
	var b [4]byte
	PutU32BE(b[:], 0x01020304)
	if !bytes.Equal(b[:], []byte{1, 2, 3, 4}) || U32BE(b[:]) != 0x01020304 {
		t.Fatalf("unexpected encode %x", b)
	}
}
