// Package auth issues and validates the bearer tokens that identify portal
// users and operators.
package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Key file names inside the keys directory.
const (
	PrivateKeyFile = "jwt_private.pem"
	PublicKeyFile  = "jwt_public.pem"
)

// KeyPair holds the ECDSA P-256 key pair used for ES256 signing.
type KeyPair struct {
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// GenerateKeyPair creates a new ECDSA P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
	}

	return &KeyPair{PrivateKey: privateKey, PublicKey: &privateKey.PublicKey}, nil
}

// Save writes the key pair as PEM files into dir.
func (kp *KeyPair) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(kp.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(kp.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}

	if err := writePEM(filepath.Join(dir, PrivateKeyFile), "EC PRIVATE KEY", privBytes, 0600); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, PublicKeyFile), "PUBLIC KEY", pubBytes, 0644)
}

// LoadKeyPair reads the key pair from dir. The public key is derived from
// the private key when its file is missing.
func LoadKeyPair(dir string) (*KeyPair, error) {
	block, err := readPEM(filepath.Join(dir, PrivateKeyFile), "EC PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if privateKey.Curve != elliptic.P256() {
		return nil, fmt.Errorf("private key must use P-256 for ES256")
	}

	kp := &KeyPair{PrivateKey: privateKey, PublicKey: &privateKey.PublicKey}

	block, err = readPEM(filepath.Join(dir, PublicKeyFile), "PUBLIC KEY")
	if errors.Is(err, fs.ErrNotExist) {
		return kp, nil
	}
	if err != nil {
		return nil, err
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	publicKey, ok := pub.(*ecdsa.PublicKey)
	if !ok || !publicKey.Equal(&privateKey.PublicKey) {
		return nil, fmt.Errorf("public key in %s does not match the private key", dir)
	}
	return kp, nil
}

// LoadOrGenerateKeyPair loads the key pair from dir, generating and saving a
// new one if no private key exists yet.
func LoadOrGenerateKeyPair(dir string) (*KeyPair, error) {
	kp, err := LoadKeyPair(dir)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := kp.Save(dir); err != nil {
		return nil, fmt.Errorf("failed to save key pair: %w", err)
	}
	return kp, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer file.Close()

	if err := pem.Encode(file, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readPEM(path, blockType string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block in %s", path)
	}
	if block.Type != blockType {
		return nil, fmt.Errorf("unexpected key type in %s: %s", path, block.Type)
	}
	return block, nil
}
