// Package secrets resolves API keys and connection credentials once at
// process start. Secrets are organised as named bundles, each holding a flat
// key/value map - the same shape a managed secret store returns for a secret
// string, so a mounted secrets file can be swapped in for the real store
// without code changes.
//
// Resolution is read-once: [Bootstrap] runs during command startup, copies
// resolved values into the process environment, and reports any missing
// required secret as a fatal configuration error. Nothing re-reads the
// provider after startup.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Provider resolves a single secret value by bundle name and key.
// Implementations must treat absence as a normal outcome, not an error:
// the boolean return is false when the key is not present.
type Provider interface {
	// Get returns the value for key inside the named secret bundle.
	// The second return is false when the bundle or key does not exist.
	// An error is returned only for real failures (unreadable backend).
	Get(ctx context.Context, secretName, key string) (string, bool, error)
}

// FileProvider reads secrets from a local JSON file mapping secret names to
// key/value objects:
//
//	{
//	  "policy-app-secrets": { "COHERE_API_KEY": "..." },
//	  "edu-app-secrets":    { "QDRANT_API_KEY": "..." }
//	}
//
// The file is parsed once at construction; Get never touches the disk again.
type FileProvider struct {
	// bundles is the parsed secret name to key/value map.
	bundles map[string]map[string]string
}

// NewFileProvider loads and parses the JSON secrets file at path.
func NewFileProvider(path string) (*FileProvider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", path, err)
	}

	var bundles map[string]map[string]string
	if err := json.Unmarshal(data, &bundles); err != nil {
		return nil, fmt.Errorf("secrets: parse %s: %w", path, err)
	}

	return &FileProvider{bundles: bundles}, nil
}

// Get returns the value for key in the named bundle, or false if absent.
func (p *FileProvider) Get(_ context.Context, secretName, key string) (string, bool, error) {
	bundle, ok := p.bundles[secretName]
	if !ok {
		return "", false, nil
	}
	v, ok := bundle[key]
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// EnvProvider resolves secrets directly from the process environment,
// ignoring the bundle name. It backs local development where operators
// export keys instead of mounting a secrets file.
type EnvProvider struct{}

// Get returns the environment value for key, or false if unset.
func (EnvProvider) Get(_ context.Context, _ string, key string) (string, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// Chain tries each provider in order and returns the first present value.
type Chain []Provider

// Get queries the chained providers in order. A hard error from any provider
// aborts the chain; absence moves on to the next.
func (c Chain) Get(ctx context.Context, secretName, key string) (string, bool, error) {
	for _, p := range c {
		v, ok, err := p.Get(ctx, secretName, key)
		if err != nil {
			return "", false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}

// Binding declares one secret the process needs at startup and the env var
// it is surfaced through for the rest of the stack.
type Binding struct {
	// SecretName is the bundle to look in (e.g. "policy-app-secrets").
	SecretName string
	// Key is the key inside the bundle (e.g. "COHERE_API_KEY").
	Key string
	// EnvVar is the environment variable the value is exported as.
	// Defaults to Key when empty.
	EnvVar string
	// Required marks the binding startup-fatal when absent.
	Required bool
}

// Bootstrap resolves every binding through the provider and exports present
// values into the environment. Env vars that are already set win - the
// provider never overrides an explicit operator value. A missing required
// binding is returned as an error so callers can abort before serving.
func Bootstrap(ctx context.Context, p Provider, bindings []Binding) error {
	for _, b := range bindings {
		envVar := b.EnvVar
		if envVar == "" {
			envVar = b.Key
		}
		if os.Getenv(envVar) != "" {
			continue
		}

		v, ok, err := p.Get(ctx, b.SecretName, b.Key)
		if err != nil {
			return fmt.Errorf("secrets: resolving %s/%s: %w", b.SecretName, b.Key, err)
		}
		if !ok {
			if b.Required {
				return fmt.Errorf("secrets: required secret %s/%s is absent", b.SecretName, b.Key)
			}
			continue
		}
		os.Setenv(envVar, v)
	}
	return nil
}

// NewFromEnv builds the startup provider chain: the JSON secrets file named
// by POLICYCHAT_SECRETS_FILE (when set) layered over the environment.
func NewFromEnv() (Provider, error) {
	var chain Chain
	if path := os.Getenv("POLICYCHAT_SECRETS_FILE"); path != "" {
		fp, err := NewFileProvider(path)
		if err != nil {
			return nil, err
		}
		chain = append(chain, fp)
	}
	chain = append(chain, EnvProvider{})
	return chain, nil
}
