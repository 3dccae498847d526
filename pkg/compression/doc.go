// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package compression implements the CMS CompressedData content type used by
AS2's optional compress step (RFC 3274, referenced from RFC 5402).

A compressed MIME part is a CMS ContentInfo whose content is a
CompressedData structure: a compression algorithm identifier followed by
the zlib-compressed original content, wrapped as
application/pkcs7-mime; smime-type=compressed-data.

# Compressing

	data, err := compression.Compress(payload)

# Decompressing

	payload, err := compression.Decompress(data)

Only zlib (RFC 1950) is implemented; it is the only algorithm RFC 3274
defines an OID for.

# References

  - RFC 3274: Compressed Data Content Type for CMS
  - RFC 5402 §4: AS2 compression ordering
*/
package compression
