// Package as2err defines the error taxonomy used across the AS2 sender core.
//
// Every error raised by the pipeline, the sender, the transport, or the
// poller is one of the codes below, wrapping an optional cause. Callers that
// need to classify an error for retry purposes call [Retryable]; other
// classification reads the Code field of the [*Error].
package as2err

import "fmt"

// Code is a machine-readable error category.
type Code string

const (
	// CodeInvalidParameter marks a missing required message or partnership field.
	CodeInvalidParameter Code = "INVALID_PARAMETER"
	// CodeConfig marks an unsupported algorithm or missing credential.
	CodeConfig Code = "CONFIG_ERROR"
	// CodeCrypto marks a signing/encryption/MIC computation failure.
	CodeCrypto Code = "CRYPTO_ERROR"
	// CodeIO marks a network or filesystem fault.
	CodeIO Code = "IO_ERROR"
	// CodeHTTPResponse marks a non-2xx HTTP reply to an AS2 POST.
	CodeHTTPResponse Code = "HTTP_RESPONSE_ERROR"
	// CodeDisposition marks an MDN carrying an error or warning disposition.
	CodeDisposition Code = "DISPOSITION_ERROR"
	// CodeMdnVerify marks an MDN signature that failed verification.
	CodeMdnVerify Code = "MDN_VERIFY_ERROR"
)

// Error is the concrete error type for every AS2 core failure.
type Error struct {
	Code      Code
	Message   string
	MessageID string
	Err       error

	// HTTPStatus is set only for CodeHTTPResponse.
	HTTPStatus int
	// URL is set only for CodeHTTPResponse.
	URL string
	// Disposition is set only for CodeDisposition.
	Disposition string
	// Warning is true for CodeDisposition when the disposition category is "warning".
	Warning bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.MessageID != "" {
		msg = fmt.Sprintf("%s (message-id=%s)", msg, e.MessageID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// InvalidParameter reports a missing required field.
func InvalidParameter(field, messageID string) *Error {
	return &Error{Code: CodeInvalidParameter, Message: "missing required field: " + field, MessageID: messageID}
}

// Config reports an unsupported algorithm or missing credential.
func Config(message string, cause error) *Error {
	return &Error{Code: CodeConfig, Message: message, Err: cause}
}

// Crypto wraps a crypto-provider failure.
func Crypto(message string, cause error) *Error {
	return &Error{Code: CodeCrypto, Message: message, Err: cause}
}

// IO wraps a network or filesystem fault.
func IO(message string, cause error) *Error {
	return &Error{Code: CodeIO, Message: message, Err: cause}
}

// HTTPResponse reports a non-2xx reply.
func HTTPResponse(url string, status int, reason string) *Error {
	return &Error{
		Code:       CodeHTTPResponse,
		Message:    fmt.Sprintf("unexpected HTTP status %d: %s", status, reason),
		URL:        url,
		HTTPStatus: status,
	}
}

// Disposition reports an MDN error/warning disposition.
func Disposition(disposition string, warning bool) *Error {
	return &Error{
		Code:        CodeDisposition,
		Message:     "MDN disposition: " + disposition,
		Disposition: disposition,
		Warning:     warning,
	}
}

// MdnVerify reports an MDN signature that failed verification.
func MdnVerify(message string, cause error) *Error {
	return &Error{Code: CodeMdnVerify, Message: message, Err: cause}
}

// Retryable reports whether the Sender should retry transmission for this
// error, per the classification in the spec's error handling design:
// HttpResponseError and IOError are retryable; everything else is terminal
// for the message (a DispositionError with Warning=true is not even an
// error from the caller's point of view and never reaches here).
func Retryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	switch e.Code {
	case CodeHTTPResponse, CodeIO:
		return true
	default:
		return false
	}
}
