package apperror

import (
	"errors"
	"testing"
)

func TestWrapPreservesExistingAppError(t *testing.T) {
	inner := New(CodeParse, WithContext("missing field s"))
	wrapped := Wrap(inner, CodeProtocol, "should not override context")

	if wrapped != inner {
		t.Fatal("Wrap should return the same AppError instance when already wrapped")
	}
	if wrapped.Context != "missing field s" {
		t.Fatalf("context overwritten: got %q", wrapped.Context)
	}
}

func TestWrapSetsContextOnPlainError(t *testing.T) {
	plain := errors.New("boom")
	wrapped := Wrap(plain, CodeTransport, "dial failed")

	if wrapped.Code != CodeTransport {
		t.Fatalf("code = %v, want %v", wrapped.Code, CodeTransport)
	}
	if wrapped.Context != "dial failed" {
		t.Fatalf("context = %q, want %q", wrapped.Context, "dial failed")
	}
	if !errors.Is(wrapped.Unwrap(), plain) {
		t.Fatal("cause not preserved")
	}
}

func TestGetCodeDefaultsToUnknown(t *testing.T) {
	if GetCode(errors.New("not an AppError")) != CodeUnknown {
		t.Fatal("expected CodeUnknown for a non-AppError")
	}
}

func TestSeverityMapping(t *testing.T) {
	cases := map[Code]Severity{
		CodeConfig:           SeverityFatal,
		CodeParse:            SeverityDebug,
		CodeProtocol:         SeverityDebug,
		CodeBackpressure:     SeverityDebug,
		CodeEncoding:         SeverityWarn,
		CodeTransport:        SeverityWarn,
		CodePublicationFatal: SeverityError,
	}
	for code, want := range cases {
		if got := DefaultSeverity(code); got != want {
			t.Errorf("DefaultSeverity(%v) = %v, want %v", code, got, want)
		}
	}
}

func TestEachAppErrorIsDistinguishableByCode(t *testing.T) {
	a := New(CodeParse)
	b := New(CodeParse)
	if !errors.Is(a, b) {
		t.Fatal("two AppErrors with the same code should satisfy errors.Is")
	}
	c := New(CodeTransport)
	if errors.Is(a, c) {
		t.Fatal("AppErrors with different codes should not satisfy errors.Is")
	}
}
