package cmdstream

import (
	"errors"
	"strings"
	"testing"
)

// TestRegisterAndNew tests the factory lookup and Init hand-off.
func TestRegisterAndNew(t *testing.T) {
	Register("reg-basic", func() Engine { return newMockEngine() })
	t.Cleanup(func() { Unregister("reg-basic") })

	e, err := New("reg-basic")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Name() != "mock" {
		t.Errorf("Name() = %q, want %q", e.Name(), "mock")
	}
}

// TestNewUnknownEngine tests the lookup failure message, which should
// point at the blank-import convention.
func TestNewUnknownEngine(t *testing.T) {
	_, err := New("reg-nonexistent")
	if err == nil {
		t.Fatal("New of an unregistered engine succeeded")
	}
	if !strings.Contains(err.Error(), "unknown engine") ||
		!strings.Contains(err.Error(), "forgotten import") {
		t.Errorf("error = %q, want unknown-engine hint", err)
	}
}

// TestNewUnavailableEngine tests the compiled-out signal: a factory may
// return nil when its build tags exclude the real implementation.
func TestNewUnavailableEngine(t *testing.T) {
	Register("reg-stub", func() Engine { return nil })
	t.Cleanup(func() { Unregister("reg-stub") })

	_, err := New("reg-stub")
	if err == nil {
		t.Fatal("New of a compiled-out engine succeeded")
	}
	if !strings.Contains(err.Error(), "not available in this build") {
		t.Errorf("error = %q, want build-availability message", err)
	}
}

// TestNewInitError tests that Init failures are wrapped, not swallowed.
func TestNewInitError(t *testing.T) {
	initErr := errors.New("device lost")
	Register("reg-initfail", func() Engine {
		e := newMockEngine()
		e.initErr = initErr
		return e
	})
	t.Cleanup(func() { Unregister("reg-initfail") })

	_, err := New("reg-initfail")
	if !errors.Is(err, initErr) {
		t.Errorf("error = %v, want wrapped %v", err, initErr)
	}
}

// TestRegisterDuplicatePanics tests the double-registration guard.
func TestRegisterDuplicatePanics(t *testing.T) {
	Register("reg-dup", func() Engine { return newMockEngine() })
	t.Cleanup(func() { Unregister("reg-dup") })

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	Register("reg-dup", func() Engine { return newMockEngine() })
}

// TestRegisterNilFactoryPanics tests the nil-factory guard.
func TestRegisterNilFactoryPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Register with nil factory did not panic")
		}
	}()
	Register("reg-nil", nil)
}

// TestEnginesSorted tests that Engines lists names alphabetically.
func TestEnginesSorted(t *testing.T) {
	Register("reg-zz", func() Engine { return newMockEngine() })
	Register("reg-aa", func() Engine { return newMockEngine() })
	t.Cleanup(func() {
		Unregister("reg-zz")
		Unregister("reg-aa")
	})

	names := Engines()
	aa, zz := -1, -1
	for i, n := range names {
		switch n {
		case "reg-aa":
			aa = i
		case "reg-zz":
			zz = i
		}
	}
	if aa == -1 || zz == -1 {
		t.Fatalf("Engines() = %v, missing registered names", names)
	}
	if aa > zz {
		t.Errorf("Engines() = %v, want alphabetical order", names)
	}
}

// TestIsRegisteredAndUnregister tests registry membership management.
func TestIsRegisteredAndUnregister(t *testing.T) {
	if IsRegistered("reg-member") {
		t.Fatal("IsRegistered true before Register")
	}
	Register("reg-member", func() Engine { return newMockEngine() })
	if !IsRegistered("reg-member") {
		t.Error("IsRegistered false after Register")
	}
	Unregister("reg-member")
	if IsRegistered("reg-member") {
		t.Error("IsRegistered true after Unregister")
	}
	Unregister("reg-member") // not registered; must be a no-op
}

// TestMustEnginePanicsOnUnknown tests the panicking variant.
func TestMustEnginePanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustEngine of an unregistered engine did not panic")
		}
	}()
	MustEngine("reg-nonexistent")
}
