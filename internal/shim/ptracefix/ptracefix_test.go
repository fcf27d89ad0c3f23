package ptracefix

import "testing"

func TestIsKnownBad(t *testing.T) {
	cases := []struct {
		release string
		want    bool
	}{
		{"6.11.9-arch1-1", false},
		{"6.12.0-1-generic", true},
		{"6.12.4-arch1-1", true},
		{"7.0.0-rc1", true},
		{"5.15.0-107-generic", false},
		{"not-a-version", false},
	}

	for _, c := range cases {
		if got := IsKnownBad(c.release); got != c.want {
			t.Errorf("IsKnownBad(%q) = %v, want %v", c.release, got, c.want)
		}
	}
}

func TestParseMajorMinor(t *testing.T) {
	major, minor, ok := parseMajorMinor("6.12.4-arch1-1")
	if !ok || major != 6 || minor != 12 {
		t.Fatalf("parseMajorMinor: got (%d, %d, %v)", major, minor, ok)
	}

	if _, _, ok := parseMajorMinor("garbage"); ok {
		t.Fatalf("expected parseMajorMinor to fail on garbage input")
	}
}
