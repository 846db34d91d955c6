package vkframe

import (
	"testing"
)

func TestSafeString(t *testing.T) {
	if safeString("") != "\x00" {
		t.Fail()
	}
	if safeString("abc") != "abc\x00" {
		t.Fail()
	}
	if safeString("abc\x00") != "abc\x00" {
		t.Fail()
	}
}

func TestSafeStringsDoesNotMutate(t *testing.T) {
	in := []string{"a", "b"}
	out := safeStrings(in)
	if in[0] != "a" {
		t.Error("input slice mutated")
	}
	if out[0] != "a\x00" || out[1] != "b\x00" {
		t.Errorf("got %q", out)
	}
}

func TestPopcount32(t *testing.T) {
	cases := map[uint32]int{
		0:          0,
		1:          1,
		0b1011:     3,
		0xffffffff: 32,
	}
	for in, want := range cases {
		if got := popcount32(in); got != want {
			t.Errorf("popcount32(%#x) = %d, want %d", in, got, want)
		}
	}
}
