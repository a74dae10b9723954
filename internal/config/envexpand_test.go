package config

import "testing"

func TestExpandEnvSubstitutesSetVariable(t *testing.T) {
	t.Setenv("PROTOKV_TEST_ADDR", "10.0.0.5:8080")

	got := ExpandEnv("listen_addr: ${PROTOKV_TEST_ADDR}")
	want := "listen_addr: 10.0.0.5:8080"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandEnvFallsBackToDefault(t *testing.T) {
	got := ExpandEnv("backend: ${PROTOKV_UNSET_VAR:-memory}")
	want := "backend: memory"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandEnvUnsetWithNoDefaultBecomesEmpty(t *testing.T) {
	got := ExpandEnv("key_prefix: ${PROTOKV_UNSET_VAR}")
	want := "key_prefix: "
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandEnvSetVariableOverridesDefault(t *testing.T) {
	t.Setenv("PROTOKV_TEST_BACKEND", "redis")

	got := ExpandEnv("backend: ${PROTOKV_TEST_BACKEND:-memory}")
	want := "backend: redis"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandEnvLeavesUnrelatedTextAlone(t *testing.T) {
	got := ExpandEnv("plain text with no placeholders")
	want := "plain text with no placeholders"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
