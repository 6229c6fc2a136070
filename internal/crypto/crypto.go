// Package crypto implements the broker's credential-encryption and
// request-signing contract.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const apiKeyPrefix = "API-KEY"

// ParseAPIKey splits a configured key into its header form and the secret
// code. Keys issued as "API-KEY-<code>" or "API-KEY <code>" normalize to
// "API-KEY <code>"; bare keys pass through unchanged as both header and code.
func ParseAPIKey(raw string) (header, code string, err error) {
	k := strings.TrimSpace(raw)
	if k == "" {
		return "", "", fmt.Errorf("api key is empty")
	}
	if strings.HasPrefix(strings.ToUpper(k), apiKeyPrefix) {
		code = strings.TrimLeft(k[len(apiKeyPrefix):], " -")
		if code == "" {
			return "", "", fmt.Errorf("api key %q has no code part", raw)
		}
		return apiKeyPrefix + " " + code, code, nil
	}
	return k, k, nil
}

// Checker computes the per-request integrity tag: lowercase hex SHA-256 over
// the concatenation apiKey + hostname + endpoint + compact JSON body. An
// empty payload contributes the empty string.
func Checker(apiKey, hostname, endpoint string, body []byte) string {
	message := apiKey + hostname + endpoint + string(body)
	hashed := sha256.Sum256([]byte(message))
	return hex.EncodeToString(hashed[:])
}

// Encryptor wraps login fields (username, password, token, OTP code) for
// transport. AES-128-CBC with a zero IV and PKCS#7 padding is the broker's
// contract: output is deterministic, so the primitive must not be used for
// anything beyond these four fields.
type Encryptor struct {
	block cipher.Block
}

// NewEncryptor builds an Encryptor from the base64-encoded key code.
func NewEncryptor(code string) (*Encryptor, error) {
	key, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("decode api key code: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("build cipher: %w", err)
	}
	return &Encryptor{block: block}, nil
}

// Encrypt returns the base64 AES-128-CBC ciphertext of plaintext.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	iv := make([]byte, aes.BlockSize)
	cipher.NewCBCEncrypter(e.block, iv).CryptBlocks(ciphertext, padded)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// Credentials bundles the normalized API key, the Checker hostname, and the
// login-field encryptor.
type Credentials struct {
	APIKey   string // Header form, sent verbatim as APIKEY
	Hostname string // Hostname component of the Checker signature
	enc      *Encryptor
}

// LoadCredentials parses the raw configured key and prepares the cipher.
func LoadCredentials(rawKey, hostname string) (*Credentials, error) {
	header, code, err := ParseAPIKey(rawKey)
	if err != nil {
		return nil, err
	}
	enc, err := NewEncryptor(code)
	if err != nil {
		return nil, err
	}
	return &Credentials{APIKey: header, Hostname: hostname, enc: enc}, nil
}

// Encrypt wraps one login field for transport.
func (c *Credentials) Encrypt(plaintext string) (string, error) {
	return c.enc.Encrypt(plaintext)
}

// Checker computes the integrity tag for a request against this key.
func (c *Credentials) Checker(endpoint string, body []byte) string {
	return Checker(c.APIKey, c.Hostname, endpoint, body)
}

// SignRequest generates the broker headers for one request. hash is the
// session authorization; empty for the unauthenticated login step.
func (c *Credentials) SignRequest(endpoint string, body []byte, hash string) map[string]string {
	headers := map[string]string{
		"APIKEY":  c.APIKey,
		"Checker": c.Checker(endpoint, body),
	}
	if hash != "" {
		headers["Authorization"] = hash
	}
	return headers
}
