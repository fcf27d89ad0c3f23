package pdb

import "testing"

func TestReadCompressedUint(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want uint32
		n    int
	}{
		{"1-byte", []byte{0x03}, 0x03, 1},
		{"1-byte max", []byte{0x7F}, 0x7F, 1},
		{"2-byte", []byte{0x80, 0x80}, 0x80, 2},
		{"2-byte max", []byte{0xBF, 0xFF}, 0x3FFF, 2},
		{"4-byte", []byte{0xC0, 0x00, 0x40, 0x00}, 0x4000, 4},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, n, err := readCompressedUint(c.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != c.want || n != c.n {
				t.Fatalf("readCompressedUint(%v) = %d, %d, want %d, %d", c.in, got, n, c.want, c.n)
			}
		})
	}
}

func TestDecodeSigned(t *testing.T) {
	cases := []struct {
		in   uint32
		want int32
	}{
		{0, 0},
		{1, -1},
		{2, 1},
		{3, -2},
		{4, 2},
	}
	for _, c := range cases {
		if got := decodeSigned(c.in); got != c.want {
			t.Errorf("decodeSigned(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestReadStringAndBlob(t *testing.T) {
	heap := []byte{0x00, 'h', 'i', 0x00, 'x'}
	if got := readString(heap, 1); got != "hi" {
		t.Errorf("readString = %q, want hi", got)
	}
	if got := readString(heap, 999); got != "" {
		t.Errorf("readString out of range = %q, want empty", got)
	}

	blobHeap := []byte{0x02, 'a', 'b'}
	if got := readBlob(blobHeap, 0); string(got) != "ab" {
		t.Errorf("readBlob = %q, want ab", got)
	}
}
