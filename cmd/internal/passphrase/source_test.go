package passphrase

import (
	"errors"
	"io"
	"testing"
)

func fixedEnv(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestSourcePrefersEnvironment(t *testing.T) {
	src := NewSource("MARKET_KEY_PASS", "")
	src.lookupEnv = fixedEnv(map[string]string{"MARKET_KEY_PASS": "hunter2"})
	src.isTerminal = func() bool { t.Fatal("terminal must not be consulted"); return false }

	got, err := src.Get()
	if err != nil || got != "hunter2" {
		t.Fatalf("Get() = %q, %v", got, err)
	}
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	src := NewSource("MARKET_KEY_PASS", "")
	src.lookupEnv = fixedEnv(map[string]string{"MARKET_KEY_PASS": "   "})
	if _, err := src.Get(); err == nil {
		t.Fatal("expected error for blank passphrase")
	}
}

func TestSourceWithoutTerminal(t *testing.T) {
	src := NewSource("MARKET_KEY_PASS", "signing key passphrase")
	src.lookupEnv = fixedEnv(nil)
	src.isTerminal = func() bool { return false }
	if _, err := src.Get(); err == nil {
		t.Fatal("expected error without terminal")
	}
}

func TestSourcePromptsOnceAndCaches(t *testing.T) {
	calls := 0
	src := NewSource("", "")
	src.lookupEnv = fixedEnv(nil)
	src.isTerminal = func() bool { return true }
	src.prompt = io.Discard
	src.readSecret = func() ([]byte, error) {
		calls++
		return []byte("s3cret"), nil
	}
	for i := 0; i < 3; i++ {
		got, err := src.Get()
		if err != nil || got != "s3cret" {
			t.Fatalf("Get() = %q, %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}
}

func TestSourcePromptFailure(t *testing.T) {
	src := NewSource("", "")
	src.lookupEnv = fixedEnv(nil)
	src.isTerminal = func() bool { return true }
	src.prompt = io.Discard
	src.readSecret = func() ([]byte, error) { return nil, errors.New("tty closed") }
	if _, err := src.Get(); err == nil {
		t.Fatal("expected read failure")
	}
}
