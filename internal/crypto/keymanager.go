// Package crypto manages the settlement authority key: encrypting it at rest
// and resolving it from config at startup.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"
)

// ErrNoKey is returned by LoadKey when no key source is configured.
var ErrNoKey = errors.New("crypto: no authority key source configured (set a raw key, a keypair file or an encrypted key file)")

const (
	envelopeVersion = 1
	keyType         = "ed25519"
	saltLen         = 16
	aesKeyLen       = 32

	kdfScrypt = "scrypt"
	kdfPBKDF2 = "pbkdf2-sha256"
)

// Parameters for newly written files. The scrypt values are the
// interactive-login recommendation (32 MiB).
var defaultKDF = kdfParams{Name: kdfScrypt, N: 1 << 15, R: 8, P: 1}

// envelope is the on-disk encrypted key file. Byte fields are base64 in
// JSON. The public key is authenticated as associated data.
type envelope struct {
	Version    int       `json:"version"`
	KeyType    string    `json:"key_type"`
	PublicKey  string    `json:"public_key"`
	KDF        kdfParams `json:"kdf"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
}

type kdfParams struct {
	Name       string `json:"name"`
	Salt       []byte `json:"salt"`
	N          int    `json:"n,omitempty"`
	R          int    `json:"r,omitempty"`
	P          int    `json:"p,omitempty"`
	Iterations int    `json:"iterations,omitempty"`
}

// derive stretches password into an AES-256 key. Parameters read from a
// file are bounded so a crafted file cannot demand unbounded work.
func (k kdfParams) derive(password string) ([]byte, error) {
	if len(k.Salt) < saltLen {
		return nil, fmt.Errorf("crypto: kdf salt is %d bytes, want at least %d", len(k.Salt), saltLen)
	}
	switch k.Name {
	case kdfScrypt:
		if k.N < 2 || k.N > 1<<20 || bits.OnesCount(uint(k.N)) != 1 || k.R < 1 || k.R > 32 || k.P < 1 || k.P > 16 {
			return nil, fmt.Errorf("crypto: scrypt parameters out of range (n=%d r=%d p=%d)", k.N, k.R, k.P)
		}
		return scrypt.Key([]byte(password), k.Salt, k.N, k.R, k.P, aesKeyLen)
	case kdfPBKDF2:
		if k.Iterations < 100_000 || k.Iterations > 10_000_000 {
			return nil, fmt.Errorf("crypto: pbkdf2 iterations %d out of range", k.Iterations)
		}
		return pbkdf2.Key([]byte(password), k.Salt, k.Iterations, aesKeyLen, sha256.New), nil
	default:
		return nil, fmt.Errorf("crypto: unsupported kdf %q", k.Name)
	}
}

func (k kdfParams) aead(password string) (cipher.AEAD, error) {
	dk, err := k.derive(password)
	if err != nil {
		return nil, err
	}
	defer clear(dk)

	block, err := aes.NewCipher(dk)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	return cipher.NewGCM(block)
}

// ParsePrivateKey decodes a base58 secret key and checks that its public
// half matches its seed.
func ParsePrivateKey(b58 string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(strings.TrimSpace(b58))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid base58 private key: %w", err)
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

func checkKey(key solana.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("crypto: key is %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	want := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize]).Public().(ed25519.PublicKey)
	if !bytes.Equal(want, key[ed25519.SeedSize:]) {
		return errors.New("crypto: public key does not match secret seed")
	}
	return nil
}

// EncryptKey seals a base58 secret key under password and returns the
// indented JSON file contents.
func EncryptKey(privateKeyB58 string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	key, err := ParsePrivateKey(privateKeyB58)
	if err != nil {
		return nil, err
	}

	env := envelope{
		Version:   envelopeVersion,
		KeyType:   keyType,
		PublicKey: key.PublicKey().String(),
		KDF:       defaultKDF,
	}
	env.KDF.Salt = make([]byte, saltLen)
	if _, err := rand.Read(env.KDF.Salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}

	gcm, err := env.KDF.aead(password)
	if err != nil {
		return nil, err
	}
	env.Nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(env.Nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}
	env.Ciphertext = gcm.Seal(nil, env.Nonce, key, []byte(env.PublicKey))

	return json.MarshalIndent(env, "", "  ")
}

// DecryptKey opens a file produced by EncryptKey and returns the base58
// secret key.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var env envelope
	if err := json.Unmarshal(encryptedJSON, &env); err != nil {
		return "", fmt.Errorf("crypto: parse encrypted key file: %w", err)
	}
	switch {
	case env.Version != envelopeVersion:
		return "", fmt.Errorf("crypto: unsupported key file version %d", env.Version)
	case env.KeyType != keyType:
		return "", fmt.Errorf("crypto: unsupported key type %q", env.KeyType)
	}

	gcm, err := env.KDF.aead(password)
	if err != nil {
		return "", err
	}
	if len(env.Nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce is %d bytes, want %d", len(env.Nonce), gcm.NonceSize())
	}
	plain, err := gcm.Open(nil, env.Nonce, env.Ciphertext, []byte(env.PublicKey))
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password or tampered file): %w", err)
	}
	defer clear(plain)

	key := solana.PrivateKey(plain)
	if err := checkKey(key); err != nil {
		return "", err
	}
	return key.String(), nil
}

// KeyConfig lists the places LoadKey may find the authority key.
type KeyConfig struct {
	// RawPrivateKey is a base58 64-byte ed25519 secret key.
	RawPrivateKey string
	// KeypairPath is a solana-keygen JSON keypair file.
	KeypairPath string
	// EncryptedKeyPath is a file written by EncryptKey, opened with
	// KeyPassword.
	EncryptedKeyPath string
	KeyPassword      string
}

// LoadKey resolves the authority key. Sources are tried in the order raw
// key, keypair file, encrypted file; the first configured one wins.
func LoadKey(cfg KeyConfig) (solana.PrivateKey, error) {
	sources := []struct {
		set  bool
		load func() (solana.PrivateKey, error)
	}{
		{cfg.RawPrivateKey != "", func() (solana.PrivateKey, error) {
			return ParsePrivateKey(cfg.RawPrivateKey)
		}},
		{cfg.KeypairPath != "", func() (solana.PrivateKey, error) {
			return loadKeygenFile(cfg.KeypairPath)
		}},
		{cfg.EncryptedKeyPath != "", func() (solana.PrivateKey, error) {
			return loadEncryptedFile(cfg.EncryptedKeyPath, cfg.KeyPassword)
		}},
	}
	for _, s := range sources {
		if s.set {
			return s.load()
		}
	}
	return nil, ErrNoKey
}

func loadKeygenFile(path string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read keypair file %s: %w", path, err)
	}
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return key, nil
}

func loadEncryptedFile(path, password string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read encrypted key file %s: %w", path, err)
	}
	b58, err := DecryptKey(data, password)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(b58)
}
