// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package keystore provides key and certificate management abstractions for
// the AS2 sender core.
//
// Partnerships name their cryptographic material by alias — a sender's
// signing key+certificate, or a partner's encryption certificate — rather
// than by raw key material, so that the core never has to know whether a
// private key lives in a PEM file or a PKCS#11 HSM.
//
//   - File-based: keys and certificates loaded from PEM files on disk
//     (development only)
//   - PKCS#11: keys held in a hardware security module or smart card,
//     compiled in only with the "pkcs11" build tag
//
// CertProvider also resolves receiver/peer certificates and, via
// [ValidatingProvider], whether they are still trusted. This is the one
// place the core does I/O to validate a certificate, deliberately kept
// out of the pure CryptoProvider in pkg/security.
package keystore

import (
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"io"
)

// Common errors.
var (
	ErrKeyNotFound  = errors.New("signing key not found")
	ErrCertNotFound = errors.New("certificate not found")
)

// CertProvider resolves an alias — as named in a Partnership's
// SenderCertAlias or ReceiverCertAlias — to key material. Implementations
// must be safe for concurrent use.
type CertProvider interface {
	// GetSigner returns the private-key signer for the given alias, used
	// to resolve a partnership's SenderCertAlias when signing.
	GetSigner(ctx context.Context, alias string) (Signer, error)

	// GetCertificate returns the certificate for the given alias, used to
	// resolve a partnership's ReceiverCertAlias when encrypting and to
	// look up the certificate embedded in an inbound signature.
	GetCertificate(ctx context.Context, alias string) (*x509.Certificate, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Signer performs the private-key operation behind a signing alias. It is
// intentionally minimal: it provides just enough for S/MIME signing
// without exposing the key material itself.
type Signer interface {
	Sign(rand io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error)
	Public() crypto.PublicKey
	Certificate() *x509.Certificate
}
