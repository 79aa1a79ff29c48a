package main

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"github.com/exchangenetwork/xnet/src/canonical"
	"github.com/exchangenetwork/xnet/src/xnet"
)

var (
	ErrUnsupportedKey  = errors.New("unsupported key type")
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")
)

// hashFunc maps an algorithm name as carried in signatures and hashes.
func hashFunc(algorithm string) (crypto.Hash, error) {
	switch strings.ToUpper(strings.ReplaceAll(algorithm, "-", "")) {
	case "SHA1":
		return crypto.SHA1, nil
	case "SHA256":
		return crypto.SHA256, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedHash, algorithm)
}

func digest(algorithm string, data []byte) ([]byte, crypto.Hash, error) {
	h, err := hashFunc(algorithm)
	if err != nil {
		return nil, 0, err
	}
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil), h, nil
}

// HashOf digests the canonical string of v.
func HashOf(v any, algorithm string) (xnet.Hash, error) {
	data, err := canonical.BytesOf(v)
	if err != nil {
		return xnet.Hash{}, err
	}
	sum, _, err := digest(algorithm, data)
	if err != nil {
		return xnet.Hash{}, err
	}
	return xnet.Hash{
		Algorithm: algorithm,
		Digest:    base64.StdEncoding.EncodeToString(sum),
	}, nil
}

// SignCanonical signs the canonical string of v. The caller passes v without
// its signature field.
func SignCanonical(signer crypto.Signer, v any, algorithm string) (*xnet.Signature, error) {
	data, err := canonical.BytesOf(v)
	if err != nil {
		return nil, err
	}
	sum, h, err := digest(algorithm, data)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(rand.Reader, sum, h)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return &xnet.Signature{
		HashAlgorithm: algorithm,
		Digest:        base64.StdEncoding.EncodeToString(sig),
	}, nil
}

// VerifyCanonical checks sig against the canonical string of v.
func VerifyCanonical(publicKey crypto.PublicKey, v any, sig *xnet.Signature) bool {
	if publicKey == nil || sig == nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(sig.Digest)
	if err != nil {
		logger.Debug("Failed to decode signature", "error", err)
		return false
	}
	data, err := canonical.BytesOf(v)
	if err != nil {
		logger.Debug("Failed to canonicalize signed value", "error", err)
		return false
	}
	sum, h, err := digest(sig.HashAlgorithm, data)
	if err != nil {
		logger.Debug("Failed to digest signed value", "error", err)
		return false
	}

	switch pub := publicKey.(type) {
	case *rsa.PublicKey:
		return rsa.VerifyPKCS1v15(pub, h, sum, raw) == nil
	case *ecdsa.PublicKey:
		return ecdsa.VerifyASN1(pub, sum, raw)
	default:
		logger.Debug("Unsupported public key", "type", fmt.Sprintf("%T", publicKey))
		return false
	}
}

// ParsePublicKeyPEM parses a PKIX or PKCS#1 public key.
func ParsePublicKeyPEM(data string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		return checkPublicKey(key)
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

func checkPublicKey(key crypto.PublicKey) (crypto.PublicKey, error) {
	switch key.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return key, nil
	case ed25519.PublicKey:
		return nil, fmt.Errorf("%w: ed25519 cannot sign prehashed digests", ErrUnsupportedKey)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
}

// ParsePrivateKeyPEM parses a PKCS#8, PKCS#1 or SEC 1 private key.
func ParsePrivateKeyPEM(data string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		switch k := key.(type) {
		case *rsa.PrivateKey:
			return k, nil
		case *ecdsa.PrivateKey:
			return k, nil
		}
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}

// GenerateKeyPairPEM creates an ECDSA P-256 key pair encoded as PKCS#8 and PKIX PEM.
func GenerateKeyPairPEM() (publicPEM, privatePEM string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key pair: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	publicPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}))
	return publicPEM, privatePEM, nil
}

// KeyAlgorithmOf names the algorithm of a public key as recorded on a User.
func KeyAlgorithmOf(key crypto.PublicKey) string {
	switch k := key.(type) {
	case *rsa.PublicKey:
		return "RSA"
	case *ecdsa.PublicKey:
		return "EC-" + k.Curve.Params().Name
	}
	return "unknown"
}
