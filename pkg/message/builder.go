package message

// NewBodyPart wraps raw bytes as a MIME body part with the given
// Content-Type. It is the starting point for a Message before the security
// pipeline runs.
func NewBodyPart(contentType string, data []byte) *BodyPart {
	return &BodyPart{ContentType: contentType, Content: data}
}
