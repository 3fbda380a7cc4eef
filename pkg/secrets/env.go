package secrets

import (
	"context"
	"fmt"
	"strings"
)

// StaticProvider serves secrets from an in-process map. cmd/ binaries use it
// with values read from the environment when QUAKE_SECRETS_SOURCE=env.
type StaticProvider struct {
	secrets map[string]map[string]string
}

// NewStaticProvider copies the given secrets. Names are matched case-insensitively.
func NewStaticProvider(secrets map[string]map[string]string) *StaticProvider {
	cp := make(map[string]map[string]string, len(secrets))
	for name, kv := range secrets {
		inner := make(map[string]string, len(kv))
		for k, v := range kv {
			inner[k] = v
		}
		cp[strings.ToLower(name)] = inner
	}
	return &StaticProvider{secrets: cp}
}

func (p *StaticProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	kv, ok := p.secrets[strings.ToLower(key)]
	if !ok {
		return nil, fmt.Errorf("secret not found: %s", key)
	}
	out := make(map[string]string, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out, nil
}

func (p *StaticProvider) ListSecrets(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.ToLower(prefix)
	var names []string
	for name := range p.secrets {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names, nil
}
