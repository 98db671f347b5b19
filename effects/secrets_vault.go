package effects

import (
	"context"
	"fmt"
	"strings"

	infisical "github.com/infisical/go-sdk"
)

// VaultConfig configures the Infisical-backed SecretResolver, grounded on
// the InfisicalRetrieveAction client setup (site URL + universal-auth
// client credentials + project/environment/path targeting).
type VaultConfig struct {
	SiteURL      string
	ClientID     string
	ClientSecret string
	ProjectID    string
	Environment  string
	SecretPath   string
}

// VaultSecretResolver resolves `vault:alias@version` references against an
// Infisical project, adapted from `semantic/infisical.go`'s
// InfisicalRetrieveAction into the SecretResolver contract: one client,
// authenticated once at construction, re-listing the target secret path on
// every Resolve (manifests only resolve secrets at effect-dispatch time,
// which is already off the kernel's hot path).
type VaultSecretResolver struct {
	cfg    VaultConfig
	client infisical.InfisicalClientInterface
}

// NewVaultSecretResolver authenticates against Infisical via universal
// auth and returns a ready resolver.
func NewVaultSecretResolver(ctx context.Context, cfg VaultConfig) (*VaultSecretResolver, error) {
	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          cfg.SiteURL,
		AutoTokenRefresh: true,
	})
	if _, err := client.Auth().UniversalAuthLogin(cfg.ClientID, cfg.ClientSecret); err != nil {
		return nil, fmt.Errorf("effects: infisical authentication failed: %w", err)
	}
	return &VaultSecretResolver{cfg: cfg, client: client}, nil
}

// Resolve implements SecretResolver for `vault:alias@version` references.
// The version suffix is accepted for forward-compatibility with Infisical
// secret versioning but current list semantics always return the active
// version; a future version-pinned lookup would use it.
func (r *VaultSecretResolver) Resolve(ref string) ([]byte, error) {
	rest, ok := strings.CutPrefix(ref, "vault:")
	if !ok {
		return nil, fmt.Errorf("effects: vault resolver given non-vault ref %q", ref)
	}
	alias := rest
	if at := strings.LastIndexByte(rest, '@'); at >= 0 {
		alias = rest[:at]
	}

	secretPath := r.cfg.SecretPath
	if secretPath == "" {
		secretPath = "/"
	}

	secrets, err := r.client.Secrets().List(infisical.ListSecretsOptions{
		AttachToProcessEnv: false,
		Environment:        r.cfg.Environment,
		ProjectID:          r.cfg.ProjectID,
		SecretPath:         secretPath,
	})
	if err != nil {
		return nil, fmt.Errorf("effects: listing infisical secrets: %w", err)
	}

	for _, s := range secrets {
		if s.SecretKey == alias {
			return []byte(s.SecretValue), nil
		}
	}
	return nil, &SecretNotFound{Ref: ref}
}

var _ SecretResolver = (*VaultSecretResolver)(nil)
