package ustr

import (
	"testing"

	"github.com/steveny9911/os161/errs"
)

func TestMkUstrBoundedFindsTerminator(t *testing.T) {
	buf := []byte("hello\x00garbage")
	s, err := MkUstrBounded(buf, len(buf))
	if err != 0 {
		t.Fatalf("MkUstrBounded: %v", err)
	}
	if s.String() != "hello" {
		t.Fatalf("got %q want %q", s.String(), "hello")
	}
}

func TestMkUstrBoundedRespectsMaxBeforeBufLen(t *testing.T) {
	buf := []byte("toolongstring\x00")
	if _, err := MkUstrBounded(buf, 4); err != errs.ENAMETOOLONG {
		t.Fatalf("expected ENAMETOOLONG, got %v", err)
	}
}

func TestMkUstrBoundedNoTerminatorIsEnametoolong(t *testing.T) {
	buf := []byte("nonultoseenhere")
	if _, err := MkUstrBounded(buf, len(buf)); err != errs.ENAMETOOLONG {
		t.Fatalf("expected ENAMETOOLONG, got %v", err)
	}
}

func TestMkUstrIsEmpty(t *testing.T) {
	if s := MkUstr(); s.String() != "" {
		t.Fatalf("expected empty string, got %q", s.String())
	}
}
