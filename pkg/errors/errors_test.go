package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeNotLoaded, "no dataset loaded")
	if !strings.Contains(err.Error(), "E101") {
		t.Errorf("error string should contain code: %s", err.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, CodeMalformed, "whatever") != nil {
		t.Error("wrapping nil should return nil")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := stderrors.New("boom")
	err := Wrap(cause, CodeStorage, "write failed")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match its cause via errors.Is")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error string should contain cause: %s", err.Error())
	}
}

func TestIsCode(t *testing.T) {
	err := Unavailable("torchbci-jims")
	if !IsCode(err, CodeUnavailable) {
		t.Error("IsCode should match CodeUnavailable")
	}
	if IsCode(err, CodeUnknownAlgorithm) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(stderrors.New("plain"), CodeUnavailable) {
		t.Error("IsCode should not match a plain error")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(Malformed("ragged rows")); got != CodeMalformed {
		t.Errorf("GetCode = %s, want %s", got, CodeMalformed)
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Errorf("GetCode on plain error = %s, want %s", got, CodeUnknown)
	}
}

func TestWithContext(t *testing.T) {
	err := New(CodeInvalidWindow, "bad window").
		WithContext("start", 100).
		WithContext("end", 50)

	s := err.Error()
	if !strings.Contains(s, "start=100") || !strings.Contains(s, "end=50") {
		t.Errorf("context missing from error string: %s", s)
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("empty MultiError should combine to nil")
	}

	first := stderrors.New("first")
	m.Add(first)
	m.Add(nil)
	if m.Combined() != first {
		t.Error("single-error MultiError should combine to that error")
	}

	m.Add(stderrors.New("second"))
	combined := m.Combined()
	if combined == nil || !strings.Contains(combined.Error(), "2 errors") {
		t.Errorf("combined = %v", combined)
	}
}
