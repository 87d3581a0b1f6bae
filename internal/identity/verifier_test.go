package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testIssuer = "https://id.example.test"

func newKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func sign(t *testing.T, priv ed25519.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
	require.NoError(t, err)
	return tok
}

func validClaims() jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":                "ext-123",
		"iss":                testIssuer,
		"iat":                now.Add(-time.Minute).Unix(),
		"exp":                now.Add(time.Hour).Unix(),
		"email":              "ada@example.test",
		"given_name":         "Ada",
		"family_name":        "Lovelace",
		"preferred_username": "ada",
	}
}

func TestVerifyValidToken(t *testing.T) {
	pub, priv := newKeys(t)
	v, err := NewVerifierWithKey(pub, Config{Issuer: testIssuer})
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), sign(t, priv, validClaims()))
	require.NoError(t, err)
	require.Equal(t, "ext-123", id.ExternalID)
	require.Equal(t, "ada@example.test", id.Email)
	require.Equal(t, "ada", id.Username)
	require.False(t, id.ExpiresAt.IsZero())
}

func TestVerifyFromPEM(t *testing.T) {
	pub, priv := newKeys(t)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	v, err := NewVerifier(Config{Issuer: testIssuer, PublicKeyPEM: string(pemData)})
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), sign(t, priv, validClaims()))
	require.NoError(t, err)
}

func TestVerifyExpired(t *testing.T) {
	pub, priv := newKeys(t)
	v, err := NewVerifierWithKey(pub, Config{Issuer: testIssuer})
	require.NoError(t, err)

	claims := validClaims()
	claims["iat"] = time.Now().Add(-2 * time.Hour).Unix()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()

	_, err = v.Verify(context.Background(), sign(t, priv, claims))
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyMalformed(t *testing.T) {
	pub, _ := newKeys(t)
	v, err := NewVerifierWithKey(pub, Config{Issuer: testIssuer})
	require.NoError(t, err)

	for _, tok := range []string{"", "not-a-jwt", "a.b"} {
		_, err := v.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrMalformed, tok)
	}
}

func TestVerifyFailures(t *testing.T) {
	pub, priv := newKeys(t)
	_, otherPriv := newKeys(t)
	v, err := NewVerifierWithKey(pub, Config{Issuer: testIssuer})
	require.NoError(t, err)

	wrongIssuer := validClaims()
	wrongIssuer["iss"] = "https://evil.example.test"

	noSubject := validClaims()
	delete(noSubject, "sub")

	cases := map[string]string{
		"wrong key":    sign(t, otherPriv, validClaims()),
		"wrong issuer": sign(t, priv, wrongIssuer),
		"no subject":   sign(t, priv, noSubject),
	}
	for name, tok := range cases {
		_, err := v.Verify(context.Background(), tok)
		require.ErrorIs(t, err, ErrFailed, name)
	}
}

func TestVerifyRejectsUnexpectedAlgorithm(t *testing.T) {
	pub, _ := newKeys(t)
	v, err := NewVerifierWithKey(pub, Config{})
	require.NoError(t, err)

	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte(pub))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), hs)
	require.ErrorIs(t, err, ErrFailed)
}

func TestNewVerifierRequiresKey(t *testing.T) {
	_, err := NewVerifier(Config{})
	require.Error(t, err)

	v, err := NewVerifier(Config{HMACSecret: "s3cr3t"})
	require.NoError(t, err)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("s3cr3t"))
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), tok)
	require.NoError(t, err)
}
