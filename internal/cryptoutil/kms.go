package cryptoutil

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/arothfield/docsite-web/internal/xerrors"
)

// kmsKeyFetcher is the one KMS call this package makes, lifted to an
// interface so tests can run without AWS credentials.
type kmsKeyFetcher interface {
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
}

// KMSVerifier checks bundle signatures against an asymmetric KMS key.
// Verification happens locally against the fetched public key, so only
// the first call per process talks to KMS.
type KMSVerifier struct {
	client kmsKeyFetcher
	keyARN string

	// AllowPKCS1v15 opts in to accepting RSA PKCS1v15 signatures after a
	// PSS check fails. Off by default; bundles published before the PSS
	// switch are the only reason to turn it on.
	AllowPKCS1v15 bool

	mu     sync.RWMutex
	pubKey crypto.PublicKey
}

func NewKMSVerifier(client *kms.Client, keyARN string) *KMSVerifier {
	return &KMSVerifier{client: client, keyARN: keyARN}
}

// PublicKey returns the key's public half, fetching it from KMS on the
// first call and serving the cached copy afterwards.
func (v *KMSVerifier) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	v.mu.RLock()
	cached := v.pubKey
	v.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pubKey != nil {
		return v.pubKey, nil
	}

	pub, err := v.fetchPublicKey(ctx)
	if err != nil {
		return nil, err
	}
	v.pubKey = pub
	return pub, nil
}

// fetchPublicKey pulls the key from KMS and refuses to cache anything
// that is not a signing key. Callers hold the write lock.
func (v *KMSVerifier) fetchPublicKey(ctx context.Context) (crypto.PublicKey, error) {
	if v.client == nil {
		return nil, xerrors.New("kms client is not configured")
	}

	out, err := v.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(v.keyARN),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "kms get public key")
	}
	if out.KeyUsage != kmstypes.KeyUsageTypeSignVerify {
		return nil, xerrors.Newf("kms key %s has KeyUsage=%s, expected SIGN_VERIFY", v.keyARN, out.KeyUsage)
	}

	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, xerrors.Wrap(err, "parse kms public key DER")
	}
	return pub, nil
}

// VerifySignature verifies signature over message with the cached public
// key. The key type picks the scheme: ECDSA on P-256 hashes with SHA-256,
// P-384 with SHA-384, and RSA keys verify as PSS over SHA-256 unless
// AllowPKCS1v15 permits the legacy fallback.
func (v *KMSVerifier) VerifySignature(ctx context.Context, message, signature []byte) error {
	pub, err := v.PublicKey(ctx)
	if err != nil {
		return err
	}

	switch key := pub.(type) {
	case *ecdsa.PublicKey:
		return verifyECDSA(key, message, signature)
	case *rsa.PublicKey:
		return verifyRSA(key, message, signature, v.AllowPKCS1v15)
	default:
		return xerrors.Newf("unsupported public key type: %T", pub)
	}
}

func verifyECDSA(key *ecdsa.PublicKey, message, signature []byte) error {
	hashFunc, digest, err := ecdsaDigest(key, message)
	if err != nil {
		return err
	}
	if !ecdsa.VerifyASN1(key, digest, signature) {
		return xerrors.Newf("ECDSA signature verification failed. hash: %s, curve: %s", hashFunc.String(), key.Curve.Params().Name)
	}
	return nil
}

// ecdsaDigest hashes message with the function matching the key's curve.
func ecdsaDigest(key *ecdsa.PublicKey, message []byte) (crypto.Hash, []byte, error) {
	switch key.Curve {
	case elliptic.P256():
		d := sha256.Sum256(message)
		return crypto.SHA256, d[:], nil
	case elliptic.P384():
		d := sha512.Sum384(message)
		return crypto.SHA384, d[:], nil
	default:
		return 0, nil, xerrors.Newf("unsupported ECDSA curve: %v", key.Curve.Params().Name)
	}
}

func verifyRSA(key *rsa.PublicKey, message, signature []byte, allowFallback bool) error {
	digest := sha256.Sum256(message)

	pssErr := rsa.VerifyPSS(key, crypto.SHA256, digest[:], signature, nil)
	if pssErr == nil {
		return nil
	}
	if !allowFallback {
		return xerrors.Newf("RSA-PSS verification failed (PKCS1v15 fallback disabled): %v", pssErr)
	}
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature)
}
