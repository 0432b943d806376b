package identity

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Credential is the raw material a request authenticates with: either a
// signed bearer token or gateway-forwarded claims. The two paths are mutually
// exclusive; gateway claims win when both are present because their presence
// marks the request as already passed through the trusted upstream.
type Credential struct {
	Token   string
	Gateway *GatewayClaims
}

// Fingerprint returns a stable identifier for cache keying. Never the raw
// token itself.
func (c Credential) Fingerprint() string {
	if c.Gateway != nil {
		return c.Gateway.TenantID + "|" + c.Gateway.UserID + "|" +
			strings.Join(c.Gateway.Roles, ",")
	}
	return c.Token
}

// ResolveOptions adjust resolution per call site.
type ResolveOptions struct {
	// EntryPoint marks authentication entry points (login, register, token
	// exchange). The insecure bypass is hard-disabled for these regardless of
	// configuration, to prevent credential-free account takeover.
	EntryPoint bool
}

// ResolverConfig configures credential verification.
type ResolverConfig struct {
	// JWTSecret verifies HS256 session tokens issued by the token service.
	JWTSecret string
	// Issuer is the expected iss claim.
	Issuer string
	// Leeway tolerates clock skew on exp/nbf validation.
	Leeway time.Duration
	// AllowInsecure enables the non-production bypass that trusts unverified
	// claims. Must never be set in production.
	AllowInsecure bool
}

// Resolver turns request credentials into validated Principals.
type Resolver struct {
	cfg     ResolverConfig
	gateway *GatewayVerifier
}

// NewResolver constructs a Resolver.
func NewResolver(cfg ResolverConfig, gateway *GatewayVerifier) *Resolver {
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
	return &Resolver{cfg: cfg, gateway: gateway}
}

// Resolve produces a Principal from the credential, or an authentication
// error. Shorthand for ResolveWith without options.
func (r *Resolver) Resolve(cred Credential) (*Principal, error) {
	return r.ResolveWith(cred, ResolveOptions{})
}

// ResolveWith produces a Principal honouring per-call options. Every returned
// Principal carries a non-empty tenant; a missing tenant is always an error,
// never defaulted.
func (r *Resolver) ResolveWith(cred Credential, opts ResolveOptions) (*Principal, error) {
	bypass := r.cfg.AllowInsecure && !opts.EntryPoint

	if cred.Gateway != nil {
		if !bypass {
			if err := r.gatewayError(cred.Gateway); err != nil {
				return nil, err
			}
		}
		return principalFromGateway(cred.Gateway)
	}

	if cred.Token == "" {
		return nil, ErrMissingCredential
	}
	claims, err := r.parseToken(cred.Token, bypass)
	if err != nil {
		return nil, err
	}
	return principalFromClaims(claims)
}

func (r *Resolver) gatewayError(claims *GatewayClaims) error {
	if r.gateway == nil {
		return fmt.Errorf("%w: no gateway verifier configured", ErrInvalidGateway)
	}
	return r.gateway.Verify(*claims)
}

func (r *Resolver) parseToken(raw string, bypass bool) (jwtv5.MapClaims, error) {
	if bypass {
		token, _, err := jwtv5.NewParser().ParseUnverified(raw, jwtv5.MapClaims{})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		claims, ok := token.Claims.(jwtv5.MapClaims)
		if !ok {
			return nil, ErrInvalidToken
		}
		return claims, nil
	}

	token, err := jwtv5.Parse(raw,
		func(t *jwtv5.Token) (any, error) { return []byte(r.cfg.JWTSecret), nil },
		jwtv5.WithValidMethods([]string{"HS256"}),
		jwtv5.WithIssuer(r.cfg.Issuer),
		jwtv5.WithLeeway(r.cfg.Leeway),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func principalFromClaims(claims jwtv5.MapClaims) (*Principal, error) {
	tenantID, _ := claims["tid"].(string)
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	userID, _ := claims["sub"].(string)
	return &Principal{
		TenantID:    tenantID,
		UserID:      userID,
		Roles:       stringSlice(claims["roles"]),
		Permissions: stringSlice(claims["perms"]),
	}, nil
}

func principalFromGateway(claims *GatewayClaims) (*Principal, error) {
	if claims.TenantID == "" {
		return nil, ErrMissingTenant
	}
	return &Principal{
		TenantID:    claims.TenantID,
		UserID:      claims.UserID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
	}, nil
}

func stringSlice(v any) []string {
	switch values := v.(type) {
	case []string:
		return values
	case []any:
		out := make([]string, 0, len(values))
		for _, item := range values {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Header names for the gateway-trusted path.
const (
	headerGatewayTenant      = "X-Auth-Tenant"
	headerGatewayUser        = "X-Auth-User"
	headerGatewayRoles       = "X-Auth-Roles"
	headerGatewayPermissions = "X-Auth-Permissions"
	headerGatewaySender      = "X-Gateway-Sender"
	headerGatewayTimestamp   = "X-Gateway-Timestamp"
	headerGatewaySignature   = "X-Gateway-Signature"
)

// CredentialFromRequest extracts the credential material from a request. The
// gateway path is selected only when the signature marker header is present;
// otherwise the bearer token, possibly empty, is used.
func CredentialFromRequest(r *http.Request) Credential {
	if sig := r.Header.Get(headerGatewaySignature); sig != "" {
		ts, _ := strconv.ParseInt(r.Header.Get(headerGatewayTimestamp), 10, 64)
		return Credential{Gateway: &GatewayClaims{
			TenantID:    r.Header.Get(headerGatewayTenant),
			UserID:      r.Header.Get(headerGatewayUser),
			Roles:       splitList(r.Header.Get(headerGatewayRoles)),
			Permissions: splitList(r.Header.Get(headerGatewayPermissions)),
			Sender:      r.Header.Get(headerGatewaySender),
			Timestamp:   ts,
			Signature:   sig,
		}}
	}
	return Credential{Token: bearerToken(r)}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	// Tolerant "Bearer xxx", case-insensitive.
	if i := strings.IndexByte(header, ' '); i > 0 && strings.EqualFold(header[:i], "Bearer") {
		return strings.TrimSpace(header[i+1:])
	}
	return ""
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
