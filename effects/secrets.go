package effects

import (
	"fmt"
	"os"
	"strings"

	"github.com/smartcomputer-ai/agentos/internal/aoserr"
)

// SecretNotFound reports a secret reference the resolver could not serve.
type SecretNotFound struct {
	Ref string
}

func (e *SecretNotFound) Error() string { return fmt.Sprintf("secret not found: %s", e.Ref) }

// SecretResolver resolves a secret alias (`env:NAME`, `vault:alias@version`)
// to its raw bytes. Manifests that declare secrets require a resolver at
// bootstrap — its absence surfaces aoserr.KindSecretResolverMissing.
type SecretResolver interface {
	Resolve(ref string) ([]byte, error)
}

// EnvSecretResolver resolves `env:NAME` references from process
// environment variables.
type EnvSecretResolver struct{}

func (EnvSecretResolver) Resolve(ref string) ([]byte, error) {
	name, ok := strings.CutPrefix(ref, "env:")
	if !ok {
		return nil, fmt.Errorf("effects: env resolver given non-env ref %q", ref)
	}
	v, ok := os.LookupEnv(name)
	if !ok {
		return nil, &SecretNotFound{Ref: ref}
	}
	return []byte(v), nil
}

// IsSecretRef reports whether s looks like a secret alias this package
// knows how to resolve.
func IsSecretRef(s string) bool {
	return strings.HasPrefix(s, "env:") || strings.HasPrefix(s, "vault:")
}

// ResolveParams walks a generic decoded value (as produced by schema
// normalisation) and substitutes every secret-reference string leaf with
// the resolver's bytes, decoded back to a UTF-8 string for embedding in
// the dispatched params. Substitution happens only at dispatch time — the
// canonical hash computed earlier in the pipeline was over the raw
// reference, never the secret.
func ResolveParams(resolver SecretResolver, value interface{}) (interface{}, error) {
	if resolver == nil {
		return value, nil
	}
	switch v := value.(type) {
	case string:
		if !IsSecretRef(v) {
			return v, nil
		}
		raw, err := resolver.Resolve(v)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, elem := range v {
			nv, err := ResolveParams(resolver, elem)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, elem := range v {
			nv, err := ResolveParams(resolver, elem)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	default:
		return value, nil
	}
}

// RequireResolver fails bootstrap with KindSecretResolverMissing when a
// manifest declares secrets but no resolver was configured.
func RequireResolver(resolver SecretResolver, manifestDeclaresSecrets bool) error {
	if manifestDeclaresSecrets && resolver == nil {
		return aoserr.New(aoserr.KindSecretResolverMissing, "manifest declares secrets but no SecretResolver was configured")
	}
	return nil
}
