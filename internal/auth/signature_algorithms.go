package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"

	"github.com/mrs-federation/server/internal/apperr"
	"github.com/mrs-federation/server/internal/registry"
)

// verifySignatureOther verifies the optional RSA-PSS and ECDSA algorithms.
// Keys are carried as DER-encoded SubjectPublicKeyInfo.
func verifySignatureOther(alg registry.KeyAlgorithm, publicKeyDER, base, sig []byte) error {
	pub, err := x509.ParsePKIXPublicKey(publicKeyDER)
	if err != nil {
		return apperr.Wrap(apperr.Unauthorized, "malformed public key", err)
	}

	digest := sha256.Sum256(base)

	switch alg {
	case registry.AlgRSAPSS:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok || rsaPub.N.BitLen() < 2048 {
			return apperr.New(apperr.Unauthorized, "rsa-pss key is invalid or below minimum size")
		}
		if err := rsa.VerifyPSS(rsaPub, crypto.SHA256, digest[:], sig, nil); err != nil {
			return apperr.New(apperr.Unauthorized, "rsa-pss signature mismatch")
		}
		return nil
	case registry.AlgECDSAP256, registry.AlgECDSAP384:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return apperr.New(apperr.Unauthorized, "ecdsa key is invalid")
		}
		if !ecdsa.VerifyASN1(ecPub, digest[:], sig) {
			return apperr.New(apperr.Unauthorized, "ecdsa signature mismatch")
		}
		return nil
	default:
		return apperr.Newf(apperr.Unauthorized, "unsupported signature algorithm %q", alg)
	}
}
