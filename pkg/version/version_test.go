package version

import (
	"errors"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		input string
		major uint16
		minor uint16
	}{
		{"1.0", 1, 0},
		{"1.1", 1, 1},
		{"2.0", 2, 0},
		{"10.23", 10, 23},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if v.Major != tt.major {
				t.Errorf("Major = %d, want %d", v.Major, tt.major)
			}
			if v.Minor != tt.minor {
				t.Errorf("Minor = %d, want %d", v.Minor, tt.minor)
			}
			if v.String() != tt.input {
				t.Errorf("String() = %q, want %q", v.String(), tt.input)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"1",
		"abc",
		"1.0.0",
		"1.x",
		"-1.0",
		".1",
		"70000.0",
	}

	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); err == nil {
				t.Errorf("Parse(%q) should return error", input)
			}
		})
	}
}

func TestCompatible(t *testing.T) {
	v1 := ProtocolVersion{Major: 1, Minor: 0}
	if !v1.Compatible(ProtocolVersion{Major: 1, Minor: 7}) {
		t.Error("1.0 should be compatible with 1.7")
	}
	if v1.Compatible(ProtocolVersion{Major: 2, Minor: 0}) {
		t.Error("1.0 should not be compatible with 2.0")
	}
}

func TestCheck(t *testing.T) {
	if err := Check(Protocol); err != nil {
		t.Errorf("Check(%q) = %v", Protocol, err)
	}
	if err := Check("1.9"); err != nil {
		t.Errorf("Check(1.9) = %v", err)
	}
	for _, remote := range []string{"", "2.0", "garbage"} {
		if err := Check(remote); !errors.Is(err, ErrIncompatible) {
			t.Errorf("Check(%q) = %v, want ErrIncompatible", remote, err)
		}
	}
}

func TestProtocolParses(t *testing.T) {
	if _, err := Parse(Protocol); err != nil {
		t.Fatalf("Protocol %q does not parse: %v", Protocol, err)
	}
}
