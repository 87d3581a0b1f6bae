// Package crypto seals message bodies under per-group keys derived from a
// single master secret.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	envelopeVersion byte = 1
	envelopePrefix       = "v1:"
	headerSize           = 1 + 8
	keySalt              = "chat-realtime/group-key"

	// MinMasterSecretSize is the shortest accepted master secret.
	MinMasterSecretSize = 32
)

var (
	ErrShortMasterSecret = errors.New("crypto: master secret too short")
	ErrMalformedEnvelope = errors.New("crypto: malformed envelope")
	ErrGroupMismatch     = errors.New("crypto: envelope sealed for another group")
	ErrDecryptionFailed  = errors.New("crypto: message authentication failed")
)

// Cipher encrypts and decrypts message bodies for groups.
type Cipher struct {
	master []byte
	rand   io.Reader
}

// NewCipher returns a Cipher keyed by masterSecret.
func NewCipher(masterSecret []byte) (*Cipher, error) {
	if len(masterSecret) < MinMasterSecretSize {
		return nil, ErrShortMasterSecret
	}
	return &Cipher{master: append([]byte(nil), masterSecret...), rand: rand.Reader}, nil
}

// GroupKey derives the symmetric key for groupID. The same inputs always
// yield the same key.
func (c *Cipher) GroupKey(groupID int64) ([]byte, error) {
	r := hkdf.New(sha256.New, c.master, []byte(keySalt), []byte(strconv.FormatInt(groupID, 10)))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive group key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext for groupID and returns a printable envelope.
func (c *Cipher) Encrypt(groupID int64, plaintext string) (string, error) {
	key, err := c.GroupKey(groupID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}

	header := makeHeader(groupID)
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	out := make([]byte, 0, headerSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, header...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), header)
	return envelopePrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt opens an envelope produced by Encrypt for the same groupID. It
// never returns partial plaintext on failure.
func (c *Cipher) Decrypt(groupID int64, envelope string) (string, error) {
	if !strings.HasPrefix(envelope, envelopePrefix) {
		return "", ErrMalformedEnvelope
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(envelope, envelopePrefix))
	if err != nil {
		return "", ErrMalformedEnvelope
	}
	if len(raw) < headerSize+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return "", ErrMalformedEnvelope
	}
	header := raw[:headerSize]
	if header[0] != envelopeVersion {
		return "", ErrMalformedEnvelope
	}
	if int64(binary.BigEndian.Uint64(header[1:])) != groupID {
		return "", ErrGroupMismatch
	}

	key, err := c.GroupKey(groupID)
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	nonce := raw[headerSize : headerSize+aead.NonceSize()]
	sealed := raw[headerSize+aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, header)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

func makeHeader(groupID int64) []byte {
	header := make([]byte, headerSize)
	header[0] = envelopeVersion
	binary.BigEndian.PutUint64(header[1:], uint64(groupID))
	return header
}
