package mime

import (
	"bytes"
	"fmt"
)

// Canonicalize renders a MIME part's Content-Type and Content-Transfer-Encoding
// headers followed by a blank line and the content, with every line
// terminated by CRLF. This is the byte sequence RFC 4130 / RFC 5751 mean by
// "the MIME body" when they say the MIC or the signature covers it: the
// body part as it appears on the wire, headers included.
//
// extraHeaders lets a caller include Content-Disposition or other headers
// that should also be covered. They follow the two fixed headers in Go map
// iteration order, which is not stable between calls.
func Canonicalize(contentType, cte string, extraHeaders map[string]string, content []byte) []byte {
	var buf bytes.Buffer
	writeHeaderLine(&buf, "Content-Type", contentType)
	if cte != "" {
		writeHeaderLine(&buf, "Content-Transfer-Encoding", cte)
	}
	for k, v := range extraHeaders {
		writeHeaderLine(&buf, k, v)
	}
	buf.WriteString("\r\n")
	buf.Write(toCRLF(content))
	return buf.Bytes()
}

func writeHeaderLine(buf *bytes.Buffer, name, value string) {
	fmt.Fprintf(buf, "%s: %s\r\n", name, value)
}

// toCRLF normalizes line endings to CRLF without double-converting
// existing CRLF sequences.
func toCRLF(content []byte) []byte {
	// Normalize to LF first, then expand to CRLF.
	lf := bytes.ReplaceAll(content, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(lf, []byte("\n"), []byte("\r\n"))
}
