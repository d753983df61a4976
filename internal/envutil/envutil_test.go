package envutil

import (
	"os"
	"testing"
)

func TestOrDefault(t *testing.T) {
	const key = "REDISX_TEST_STRING"
	os.Unsetenv(key)
	ClearCache(key)
	if got := OrDefault(key, "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	os.Setenv(key, "value")
	if got := OrDefault(key, "fallback"); got != "value" {
		t.Fatalf("expected value, got %q", got)
	}
}

func TestOrDefaultInt(t *testing.T) {
	const key = "REDISX_TEST_INT"
	os.Unsetenv(key)
	ClearCache(key)
	if got := OrDefaultInt(key, 10); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
	os.Setenv(key, "5")
	ClearCache(key)
	if got := OrDefaultInt(key, 10); got != 5 {
		t.Fatalf("expected 5, got %d", got)
	}
	os.Setenv(key, "bad")
	ClearCache(key)
	if got := OrDefaultInt(key, 7); got != 7 {
		t.Fatalf("expected fallback on parse error, got %d", got)
	}
}

func TestOrDefaultBool(t *testing.T) {
	const key = "REDISX_TEST_BOOL"
	os.Unsetenv(key)
	ClearCache(key)
	if got := OrDefaultBool(key, true); got != true {
		t.Fatalf("expected fallback true, got %v", got)
	}
	os.Setenv(key, "false")
	ClearCache(key)
	if got := OrDefaultBool(key, true); got != false {
		t.Fatalf("expected false, got %v", got)
	}
}

func TestCacheAvoidsReReadingAfterEnvChangesWithoutClear(t *testing.T) {
	const key = "REDISX_TEST_CACHE"
	os.Unsetenv(key)
	ClearCache(key)
	os.Setenv(key, "first")
	if got := OrDefault(key, ""); got != "first" {
		t.Fatalf("expected first, got %q", got)
	}
	os.Setenv(key, "second")
	if got := OrDefault(key, ""); got != "first" {
		t.Fatalf("expected cached value first to persist, got %q", got)
	}
	ClearCache(key)
	if got := OrDefault(key, ""); got != "second" {
		t.Fatalf("expected second after ClearCache, got %q", got)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if err := Wrap(nil, "context"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
