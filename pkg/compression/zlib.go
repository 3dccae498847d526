package compression

import (
	"bytes"
	"compress/zlib"
	"encoding/asn1"
	"fmt"
	"io"
)

// ContentTypeCompressedData is the Content-Type used for a compressed MIME
// part per RFC 3274.
const ContentTypeCompressedData = `application/pkcs7-mime; smime-type=compressed-data; name="smime.p7z"`

var (
	oidCompressedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 1, 9}
	oidZlibCompress    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 3, 8}
	oidData            = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

type encapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     []byte `asn1:"explicit,optional,tag:0"`
}

type compressedData struct {
	Version              int
	CompressionAlgorithm  algorithmIdentifier
	EncapContentInfo      encapsulatedContentInfo
}

type contentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

// Compress wraps data in a CMS CompressedData ContentInfo, zlib-compressing
// the payload. The returned bytes are the DER encoding of the ContentInfo,
// suitable as the body of an application/pkcs7-mime; smime-type=compressed-data part.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("compression: zlib write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compression: zlib close: %w", err)
	}

	cd := compressedData{
		Version: 0,
		CompressionAlgorithm: algorithmIdentifier{
			Algorithm: oidZlibCompress,
		},
		EncapContentInfo: encapsulatedContentInfo{
			EContentType: oidData,
			EContent:     buf.Bytes(),
		},
	}

	inner, err := asn1.Marshal(cd)
	if err != nil {
		return nil, fmt.Errorf("compression: marshal CompressedData: %w", err)
	}

	ci := contentInfo{
		ContentType: oidCompressedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: inner},
	}
	out, err := asn1.Marshal(ci)
	if err != nil {
		return nil, fmt.Errorf("compression: marshal ContentInfo: %w", err)
	}
	return out, nil
}

// Decompress parses a CMS CompressedData ContentInfo produced by Compress
// and returns the original, zlib-decompressed content.
func Decompress(data []byte) ([]byte, error) {
	var ci contentInfo
	if _, err := asn1.Unmarshal(data, &ci); err != nil {
		return nil, fmt.Errorf("compression: unmarshal ContentInfo: %w", err)
	}
	if !ci.ContentType.Equal(oidCompressedData) {
		return nil, fmt.Errorf("compression: unexpected content type OID %v", ci.ContentType)
	}

	var cd compressedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &cd); err != nil {
		return nil, fmt.Errorf("compression: unmarshal CompressedData: %w", err)
	}
	if !cd.CompressionAlgorithm.Algorithm.Equal(oidZlibCompress) {
		return nil, fmt.Errorf("compression: unsupported compression algorithm OID %v", cd.CompressionAlgorithm.Algorithm)
	}

	r, err := zlib.NewReader(bytes.NewReader(cd.EncapContentInfo.EContent))
	if err != nil {
		return nil, fmt.Errorf("compression: zlib reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("compression: zlib read: %w", err)
	}
	return out, nil
}
