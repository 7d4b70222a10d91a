// Package codec seals credential strings with AES-256-GCM under a key derived
// from a passphrase with PBKDF2.
package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultSalt is the application wide PBKDF2 salt.
	DefaultSalt = "libopenstorage-credvault-static-salt-v1"
	// MinIterations is the lowest PBKDF2 iteration count New accepts.
	MinIterations = 100000
	// DefaultIterations is used when Config.Iterations is zero.
	DefaultIterations = MinIterations
	// KeySize is the derived key length; 32 bytes selects AES-256.
	KeySize = 32
	// NonceSize is the GCM nonce length prepended to every ciphertext.
	NonceSize = 12
)

var (
	// ErrEncryption is returned when a value could not be sealed.
	ErrEncryption = errors.New("unable to encrypt credential")
	// ErrDecryption is returned when a value could not be opened, either
	// because it is corrupt or because the passphrase is wrong.
	ErrDecryption = errors.New("unable to decrypt credential")
	// ErrInvalidConfig is returned by New for a weak or incomplete configuration.
	ErrInvalidConfig = errors.New("invalid codec configuration")
)

// Config configures a Codec. Zero values select the defaults.
type Config struct {
	Salt       []byte
	Iterations int
	// Rand is the nonce source. Defaults to crypto/rand.Reader.
	Rand io.Reader
}

// Codec encrypts and decrypts strings. It is safe for concurrent use.
type Codec struct {
	salt       []byte
	iterations int
	rand       io.Reader
}

// New returns a Codec for the supplied configuration.
func New(cfg Config) (*Codec, error) {
	salt := cfg.Salt
	if salt == nil {
		salt = []byte(DefaultSalt)
	}
	if len(salt) == 0 {
		return nil, ErrInvalidConfig
	}
	iterations := cfg.Iterations
	if iterations == 0 {
		iterations = DefaultIterations
	}
	if iterations < MinIterations {
		return nil, ErrInvalidConfig
	}
	r := cfg.Rand
	if r == nil {
		r = rand.Reader
	}
	return &Codec{
		salt:       append([]byte(nil), salt...),
		iterations: iterations,
		rand:       r,
	}, nil
}

// Default returns a Codec with the default salt and iteration count.
func Default() *Codec {
	c, _ := New(Config{})
	return c
}

// Iterations returns the PBKDF2 iteration count.
func (c *Codec) Iterations() int {
	return c.iterations
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (c *Codec) Encrypt(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEncryption
	}
	gcm, err := c.getGCM(passphrase)
	if err != nil {
		return "", ErrEncryption
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(c.rand, nonce); err != nil {
		return "", ErrEncryption
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Codec) Decrypt(blob, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrDecryption
	}
	data, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", ErrDecryption
	}

	gcm, err := c.getGCM(passphrase)
	if err != nil {
		return "", ErrDecryption
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize+gcm.Overhead() {
		return "", ErrDecryption
	}

	nonce, cipherData := data[:nonceSize], data[nonceSize:]
	plain, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// Reencrypt opens blob with c and seals the plaintext again with to.
func (c *Codec) Reencrypt(blob, passphrase string, to *Codec) (string, error) {
	plain, err := c.Decrypt(blob, passphrase)
	if err != nil {
		return "", err
	}
	return to.Encrypt(plain, passphrase)
}

// getGCM derives the AES key for passphrase and wraps it in GCM.
func (c *Codec) getGCM(passphrase string) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), c.salt, c.iterations, KeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, NonceSize)
}

// Fingerprint returns the hex encoded SHA-256 digest of secret.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Passphrase returns the key derivation input for one owner's credential
// for one service.
func Passphrase(ownerID, serviceName string) string {
	return ownerID + serviceName
}
