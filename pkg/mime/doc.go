// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mime implements the MIME part handling AS2 needs: canonicalization
of a body part's header-plus-content bytes (for MIC computation and for
what actually gets signed), and multipart/signed construction and parsing
per RFC 1847 / RFC 5751.

# Canonicalization

AS2 MIC and signature input is computed over the MIME part with its
headers in CRLF-terminated canonical form, exactly as it will be
transmitted. [Canonicalize] produces those bytes from a Content-Type,
Content-Transfer-Encoding, and raw content.

# multipart/signed

[BuildSigned] assembles the two-part multipart/signed structure (content
part + detached signature part) that the security pipeline produces when
signing is configured. [ParseSigned] is its inverse, used by the MDN
receiver to split a signed MDN body into its content and signature parts.
*/
package mime
