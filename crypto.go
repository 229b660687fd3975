package dkim

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"errors"
	"fmt"

	"golang.org/x/crypto/ed25519"
)

// HashAlgorithm names one of the digest algorithms a DKIM-Signature's a=
// tag can select.
type HashAlgorithm int

const (
	HashSHA1 HashAlgorithm = iota
	HashSHA256
)

func (h HashAlgorithm) cryptoHash() crypto.Hash {
	switch h {
	case HashSHA1:
		return crypto.SHA1
	case HashSHA256:
		return crypto.SHA256
	default:
		return 0
	}
}

// KeyAlgorithm names one of the public-key algorithms a DKIM-Signature's
// a= tag, or a key record's k= tag, can select.
type KeyAlgorithm string

const (
	KeyAlgorithmRSA     KeyAlgorithm = "rsa"
	KeyAlgorithmEd25519 KeyAlgorithm = "ed25519"
)

// Crypto is the capability interface Verifier uses for hashing and
// signature verification. The default implementation (used when Options
// leaves it nil) wraps the standard library's crypto/rsa and crypto/x509
// packages plus golang.org/x/crypto/ed25519; callers needing FIPS-certified primitives, HSM-backed
// keys, or deterministic test doubles can supply their own.
type Crypto interface {
	// Hash returns the digest of data under alg.
	Hash(alg HashAlgorithm, data []byte) []byte

	// VerifySignature checks that signature is a valid signature of
	// hashed (the digest of the signed bytes under alg) using the public
	// key encoded in keyData, per keyAlg. It returns a non-nil error on
	// any failure, including an unsupported or malformed key.
	VerifySignature(keyAlg KeyAlgorithm, keyData []byte, alg HashAlgorithm, hashed, signature []byte) error
}

// defaultCrypto is the stdlib-backed Crypto implementation used when no
// Options.Crypto is supplied.
type defaultCrypto struct{}

func (defaultCrypto) Hash(alg HashAlgorithm, data []byte) []byte {
	switch alg {
	case HashSHA1:
		sum := sha1.Sum(data)
		return sum[:]
	case HashSHA256:
		sum := sha256.Sum256(data)
		return sum[:]
	default:
		return nil
	}
}

var (
	errNotRSAPublicKey   = errors.New("dkim: key data is not an RSA public key")
	errRSAKeyTooSmall    = errors.New("dkim: RSA key is shorter than 1024 bits")
	errInvalidEd25519Key = errors.New("dkim: key data is not a valid Ed25519 public key")
	errUnsupportedKeyAlg = errors.New("dkim: unsupported public key algorithm")
)

func (defaultCrypto) VerifySignature(keyAlg KeyAlgorithm, keyData []byte, alg HashAlgorithm, hashed, signature []byte) error {
	switch keyAlg {
	case KeyAlgorithmRSA, "":
		return verifyRSA(keyData, alg, hashed, signature)
	case KeyAlgorithmEd25519:
		return verifyEd25519(keyData, hashed, signature)
	default:
		return fmt.Errorf("%w: %q", errUnsupportedKeyAlg, keyAlg)
	}
}

// verifyRSA parses keyData as either a PKIX SubjectPublicKeyInfo (the
// common case, what golang.org/x/crypto tooling and OpenSSL emit) or a
// bare PKCS#1 public key (seen in the wild per RFC errata 3017), then
// checks the PKCS#1 v1.5 signature.
func verifyRSA(keyData []byte, alg HashAlgorithm, hashed, signature []byte) error {
	pub, err := x509.ParsePKIXPublicKey(keyData)
	if err != nil {
		pub, err = x509.ParsePKCS1PublicKey(keyData)
	}
	if err != nil {
		return fmt.Errorf("dkim: invalid RSA public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return errNotRSAPublicKey
	}

	// RFC 8301 section 3.2: verifiers MUST NOT consider signatures that
	// use RSA keys of less than 1024 bits to be valid.
	if rsaPub.Size()*8 < 1024 {
		return fmt.Errorf("%w: has %d bits", errRSAKeyTooSmall, rsaPub.Size()*8)
	}

	return rsa.VerifyPKCS1v15(rsaPub, alg.cryptoHash(), hashed, signature)
}

// verifyEd25519 implements RFC 8463's ed25519-sha256 signature algorithm.
func verifyEd25519(keyData []byte, hashed, signature []byte) error {
	if len(keyData) != ed25519.PublicKeySize {
		return errInvalidEd25519Key
	}
	if ed25519.Verify(ed25519.PublicKey(keyData), hashed, signature) {
		return nil
	}
	return errors.New("dkim: Ed25519 signature verification failed")
}
