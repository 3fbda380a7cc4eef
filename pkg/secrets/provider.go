package secrets

import "context"

// Provider defines a generic secrets manager interface.
// Quake credentials are stored as flat JSON maps, so every backend returns map[string]string.
type Provider interface {
	// GetSecret retrieves a secret by key/path and returns a key-value map.
	GetSecret(ctx context.Context, key string) (map[string]string, error)

	// ListSecrets returns the names of all secrets whose name matches the given prefix.
	ListSecrets(ctx context.Context, prefix string) ([]string, error)
}
