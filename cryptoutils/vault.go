package cryptoutils

import (
	"context"
	"fmt"
	"time"

	vault "github.com/hashicorp/vault/api"
)

// VaultCredentialSource fetches the mTLS client material from a Vault KV v2
// secret instead of the local file system, so pool services can rotate their
// certificates without redeploying.
type VaultCredentialSource struct {
	client    *vault.Client
	mountPath string
	dataPath  string
}

// NewVaultCredentialSource creates a credential source for the given Vault
// address and KV v2 mount. The token must be able to read dataPath under
// mountPath.
func NewVaultCredentialSource(address, token, mountPath, dataPath string) (*VaultCredentialSource, error) {
	config := vault.DefaultConfig()
	config.Address = address
	config.Timeout = 15 * time.Second

	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("could not create vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultCredentialSource{
		client:    client,
		mountPath: mountPath,
		dataPath:  dataPath,
	}, nil
}

// Fetch reads the client credentials. The secret must carry string fields
// "cert_pem", "key_pem" and "ca_pem".
func (s *VaultCredentialSource) Fetch(ctx context.Context) (*ClientCredentials, error) {
	secret, err := s.client.KVv2(s.mountPath).Get(ctx, s.dataPath)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials from vault: %w", err)
	}

	creds := &ClientCredentials{}
	for field, dst := range map[string]*[]byte{
		"cert_pem": &creds.CertPEM,
		"key_pem":  &creds.KeyPEM,
		"ca_pem":   &creds.CAPEM,
	} {
		raw, ok := secret.Data[field].(string)
		if !ok || raw == "" {
			return nil, fmt.Errorf("vault secret missing field %q", field)
		}
		*dst = []byte(raw)
	}
	return creds, nil
}
