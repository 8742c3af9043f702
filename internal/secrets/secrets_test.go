package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// writeSecretsFile writes a JSON secrets file into a temp dir and returns its path.
func writeSecretsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
	return path
}

func TestFileProvider_GetPresentAndAbsent(t *testing.T) {
	t.Parallel()

	path := writeSecretsFile(t, `{
		"policy-app-secrets": {"COHERE_API_KEY": "co-123"},
		"edu-app-secrets":    {"QDRANT_API_KEY": "qd-456"}
	}`)

	p, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}
	ctx := context.Background()

	v, ok, err := p.Get(ctx, "policy-app-secrets", "COHERE_API_KEY")
	if err != nil || !ok || v != "co-123" {
		t.Errorf("COHERE_API_KEY: got (%q, %v, %v), want (co-123, true, nil)", v, ok, err)
	}

	_, ok, err = p.Get(ctx, "policy-app-secrets", "NOPE")
	if err != nil || ok {
		t.Errorf("absent key: got (ok=%v, err=%v), want (false, nil)", ok, err)
	}

	_, ok, err = p.Get(ctx, "unknown-bundle", "COHERE_API_KEY")
	if err != nil || ok {
		t.Errorf("absent bundle: got (ok=%v, err=%v), want (false, nil)", ok, err)
	}
}

func TestFileProvider_MalformedFile(t *testing.T) {
	t.Parallel()

	path := writeSecretsFile(t, `{"policy-app-secrets": "not a map"}`)
	if _, err := NewFileProvider(path); err == nil {
		t.Fatal("expected parse error for malformed secrets file")
	}
}

func TestChain_FirstPresentWins(t *testing.T) {
	path := writeSecretsFile(t, `{"b": {"K": "from-file"}}`)
	fp, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}
	t.Setenv("K", "from-env")

	chain := Chain{fp, EnvProvider{}}
	v, ok, err := chain.Get(context.Background(), "b", "K")
	if err != nil || !ok || v != "from-file" {
		t.Errorf("chain: got (%q, %v, %v), want (from-file, true, nil)", v, ok, err)
	}

	// Key only known to the env falls through the file provider.
	t.Setenv("ONLY_ENV", "e")
	v, ok, _ = chain.Get(context.Background(), "b", "ONLY_ENV")
	if !ok || v != "e" {
		t.Errorf("env fallthrough: got (%q, %v), want (e, true)", v, ok)
	}
}

func TestBootstrap_RequiredMissingIsFatal(t *testing.T) {
	path := writeSecretsFile(t, `{"policy-app-secrets": {}}`)
	fp, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}
	os.Unsetenv("COHERE_API_KEY")

	err = Bootstrap(context.Background(), fp, []Binding{
		{SecretName: "policy-app-secrets", Key: "COHERE_API_KEY", Required: true},
	})
	if err == nil {
		t.Fatal("expected error for missing required secret")
	}
}

func TestBootstrap_ExportsAndRespectsExistingEnv(t *testing.T) {
	path := writeSecretsFile(t, `{
		"policy-app-secrets": {"COHERE_API_KEY": "co-file", "OPTIONAL_KEY": "opt"}
	}`)
	fp, err := NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}

	t.Setenv("COHERE_API_KEY", "co-operator")
	os.Unsetenv("OPTIONAL_KEY")
	t.Cleanup(func() { os.Unsetenv("OPTIONAL_KEY") })

	err = Bootstrap(context.Background(), fp, []Binding{
		{SecretName: "policy-app-secrets", Key: "COHERE_API_KEY", Required: true},
		{SecretName: "policy-app-secrets", Key: "OPTIONAL_KEY"},
		{SecretName: "policy-app-secrets", Key: "ABSENT_OPTIONAL"},
	})
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	if got := os.Getenv("COHERE_API_KEY"); got != "co-operator" {
		t.Errorf("existing env overridden: got %q", got)
	}
	if got := os.Getenv("OPTIONAL_KEY"); got != "opt" {
		t.Errorf("OPTIONAL_KEY: got %q, want opt", got)
	}
}
