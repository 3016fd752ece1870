package marshal

import (
	"bytes"
	"testing"
)

func TestActorDataRoundTrip(t *testing.T) {
	want := ActorData{
		WorldPosition: [3]float32{1.0, 2.0, 3.0},
		ShapeRotation: [3]int16{10, 20, 30},
		UpperLimbRot:  [3]int16{-1, -2, -3},
		CurrentBoots:  1,
		CurrentShield: 2,
	}
	want.JointTable[0] = [3]int16{1, 2, 3}
	want.JointTable[23] = [3]int16{-100, 0, 100}

	base := make([]byte, ActorDataSize+16)
	addr := uint64(8)

	WriteActorData(base, addr, want)
	got := ReadActorData(base, addr)

	if got != want {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, want)
	}
}

func TestActorDataSizeMatchesSpec(t *testing.T) {
	if ActorDataSize != 170 {
		t.Fatalf("ActorDataSize = %d, want 170", ActorDataSize)
	}
}

func TestWriteStringTruncatesAndTerminates(t *testing.T) {
	base := make([]byte, 16)
	n := WriteString(base, 0, "hello", 4)
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	if !bytes.Equal(base[:4], []byte("hel\x00")) {
		t.Fatalf("base[:4] = %q, want \"hel\\x00\"", base[:4])
	}
}

func TestWriteStringZeroMaxBytesWritesNothing(t *testing.T) {
	base := []byte{0xFF, 0xFF}
	n := WriteString(base, 0, "x", 0)
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
	if base[0] != 0xFF {
		t.Fatal("buffer should be untouched when maxBytes is 0")
	}
}

func TestReadCStringStopsAtNUL(t *testing.T) {
	base := []byte("hi\x00garbage")
	s := ReadCString(base, 0, len(base))
	if s != "hi" {
		t.Fatalf("s = %q, want %q", s, "hi")
	}
}

func TestWriteStringArrayDropsExcessEntries(t *testing.T) {
	base := make([]byte, 64)
	xs := []string{"aa", "bb", "cc", "dd"}
	n := WriteStringArray(base, 0, xs, 8, 2)
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if string(base[0:2]) != "aa" || string(base[8:10]) != "bb" {
		t.Fatal("first two strings were not written at the expected stride")
	}
}

func TestWriteStringArrayZeroMaxCountWritesNothing(t *testing.T) {
	base := []byte{0xFF, 0xFF}
	n := WriteStringArray(base, 0, []string{"a"}, 8, 0)
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
	if base[0] != 0xFF {
		t.Fatal("buffer should be untouched when maxCount is 0")
	}
}
