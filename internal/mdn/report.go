package mdn

import (
	"bufio"
	"bytes"
	gomime "mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/Shucki/as2-lib/pkg/message"
)

// dispositionReport is the parsed content of a message/disposition-notification
// MIME part (RFC 3798), plus the human-readable explanation carried
// alongside it in the enclosing multipart/report.
type dispositionReport struct {
	disposition string
	mic         *message.MIC
	explanation string
}

// parseDispositionNotification accepts either a multipart/report body
// (the normal case: a human-readable text/plain part plus a
// message/disposition-notification part) or a bare
// message/disposition-notification body, for implementations that omit the
// wrapper.
func parseDispositionNotification(contentType string, body []byte) (*dispositionReport, error) {
	mediaType, params, err := gomime.ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(mediaType, "message/disposition-notification") {
		return parseNotificationFields(body)
	}

	r := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	report := &dispositionReport{}
	for {
		part, perr := r.NextPart()
		if perr != nil {
			break
		}
		data, _ := readAll(part)
		partType, _, _ := gomime.ParseMediaType(part.Header.Get("Content-Type"))
		switch {
		case strings.EqualFold(partType, "message/disposition-notification"):
			fields, ferr := parseNotificationFields(data)
			if ferr != nil {
				return nil, ferr
			}
			report.disposition = fields.disposition
			report.mic = fields.mic
		case strings.EqualFold(partType, "text/plain") && report.explanation == "":
			report.explanation = strings.TrimSpace(string(data))
		}
	}
	return report, nil
}

// parseNotificationFields parses the body of a message/disposition-notification
// part: an RFC 822-style header block whose fields of interest are
// "Disposition" and "Received-content-MIC".
func parseNotificationFields(data []byte) (*dispositionReport, error) {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(data)))
	header, err := tp.ReadMIMEHeader()
	if err != nil && header == nil {
		return nil, err
	}

	report := &dispositionReport{disposition: header.Get("Disposition")}
	if raw := header.Get("Received-Content-MIC"); raw != "" {
		mic, merr := message.ParseMICString(raw)
		if merr == nil {
			report.mic = &mic
		}
	}
	return report, nil
}

func readAll(r *multipart.Part) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, err := r.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}
