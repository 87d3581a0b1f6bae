// Package identity validates identity tokens issued by the external provider.
package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrExpired   = errors.New("identity: token expired")
	ErrMalformed = errors.New("identity: token malformed")
	ErrFailed    = errors.New("identity: token verification failed")
)

// Identity is what a verified token tells us about the caller.
type Identity struct {
	ExternalID string
	Email      string
	FirstName  string
	LastName   string
	Username   string
	AvatarURL  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Config selects the verification key and expected claims.
type Config struct {
	Issuer        string
	Audience      string
	PublicKeyPEM  string
	PublicKeyFile string
	HMACSecret    string
	Leeway        time.Duration
}

type tokenClaims struct {
	Email             string `json:"email"`
	GivenName         string `json:"given_name"`
	FamilyName        string `json:"family_name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	jwt.RegisteredClaims
}

// Verifier checks token signatures and claims.
type Verifier struct {
	key     any
	methods []string
	issuer  string
	aud     string
	leeway  time.Duration
	now     func() time.Time
}

// NewVerifier loads the key described by cfg.
func NewVerifier(cfg Config) (*Verifier, error) {
	pemData := []byte(cfg.PublicKeyPEM)
	if len(pemData) == 0 && cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read identity public key: %w", err)
		}
		pemData = data
	}

	switch {
	case len(pemData) > 0:
		key, err := parsePublicKey(pemData)
		if err != nil {
			return nil, err
		}
		return NewVerifierWithKey(key, cfg)
	case cfg.HMACSecret != "":
		return NewVerifierWithKey([]byte(cfg.HMACSecret), cfg)
	default:
		return nil, errors.New("identity: no verification key configured")
	}
}

// NewVerifierWithKey builds a Verifier around an already parsed key.
func NewVerifierWithKey(key any, cfg Config) (*Verifier, error) {
	var methods []string
	switch key.(type) {
	case *rsa.PublicKey:
		methods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	case *ecdsa.PublicKey:
		methods = []string{"ES256", "ES384", "ES512"}
	case ed25519.PublicKey:
		methods = []string{"EdDSA"}
	case []byte:
		methods = []string{"HS256", "HS384", "HS512"}
	default:
		return nil, fmt.Errorf("identity: unsupported key type %T", key)
	}
	return &Verifier{
		key:     key,
		methods: methods,
		issuer:  cfg.Issuer,
		aud:     cfg.Audience,
		leeway:  cfg.Leeway,
		now:     time.Now,
	}, nil
}

// Verify validates token and returns the identity it asserts. Errors are
// always one of ErrExpired, ErrMalformed or ErrFailed.
func (v *Verifier) Verify(ctx context.Context, token string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	if token == "" {
		return Identity{}, ErrMalformed
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.aud != "" {
		opts = append(opts, jwt.WithAudience(v.aud))
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	}, opts...)
	if err != nil {
		return Identity{}, classify(err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrFailed)
	}

	id := Identity{
		ExternalID: claims.Subject,
		Email:      claims.Email,
		FirstName:  claims.GivenName,
		LastName:   claims.FamilyName,
		Username:   claims.PreferredUsername,
		AvatarURL:  claims.Picture,
	}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	default:
		return fmt.Errorf("%w: %v", ErrFailed, err)
	}
}

func parsePublicKey(data []byte) (any, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseEdPublicKeyFromPEM(data); err == nil {
		return key, nil
	}
	return nil, errors.New("identity: unrecognised public key PEM")
}
