// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package security implements the AS2 CryptoProvider: MIC computation, and
S/MIME (CMS) signing, encryption, and verification of a MIME body part.

It is deliberately pure and I/O-free — callers resolve signing keys and
certificates through keystore.CertProvider and pass the resolved material
in. The heavy lifting (CMS SignedData / EnvelopedData construction and
parsing) is delegated to go.mozilla.org/pkcs7, the same way the teacher
delegates its signature primitives to a dedicated library rather than
hand-rolling ASN.1.

# MIC

[ComputeMIC] hashes the canonical bytes of a MIME part (as produced by
pkg/mime.Canonicalize) with the algorithm named by a partnership, or a
default if none is set.

# Signing

[Sign] produces a detached CMS signature over a content part and returns
just the signature bytes; pkg/mime.BuildSigned wraps it into the
multipart/signed structure that actually goes on the wire. [Verify] is its
inverse, used by the MDN receiver.

# Encryption

[Encrypt] envelopes a MIME part to a receiver certificate as CMS
EnvelopedData (application/pkcs7-mime; smime-type=enveloped-data).
[Decrypt] is its inverse, provided for completeness and round-trip testing.
*/
package security
