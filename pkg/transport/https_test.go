package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendPostsBodyAndHeaders(t *testing.T) {
	var gotMethod, gotAS2From, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotAS2From = r.Header.Get("AS2-From")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "multipart/signed; boundary=x")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("MDN-DATA"))
	}))
	defer server.Close()

	tr := &HttpTransport{}
	conn, err := tr.Open(server.URL, http.MethodPost, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetHeader("AS2-From", "SenderID")
	n, err := conn.Send(strings.NewReader("EDI PAYLOAD"), "binary")
	require.NoError(t, err)

	assert.Equal(t, int64(len("EDI PAYLOAD")), n)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "SenderID", gotAS2From)
	assert.Equal(t, "EDI PAYLOAD", gotBody)

	assert.Equal(t, http.StatusOK, conn.ResponseCode())
	assert.Contains(t, conn.ResponseMessage(), "200")
	assert.Equal(t, "multipart/signed; boundary=x", conn.ResponseHeaders()["Content-Type"])

	respBody, err := io.ReadAll(conn.ResponseBodyStream())
	require.NoError(t, err)
	assert.Equal(t, "MDN-DATA", string(respBody))
}

func TestSendSetsContentTransferEncoding(t *testing.T) {
	var gotCTE string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCTE = r.Header.Get("Content-Transfer-Encoding")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tr := &HttpTransport{}
	conn, err := tr.Open(server.URL, http.MethodPost, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Send(strings.NewReader("x"), "base64")
	require.NoError(t, err)
	assert.Equal(t, "base64", gotCTE)
}

func TestSendReturnsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	tr := &HttpTransport{}
	conn, err := tr.Open(server.URL, http.MethodPost, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Send(strings.NewReader("x"), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, conn.ResponseCode())
}

func TestSendUnreachableHostIsError(t *testing.T) {
	tr := &HttpTransport{ConnectTimeout: 200 * time.Millisecond}
	conn, err := tr.Open("http://127.0.0.1:1", http.MethodPost, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Send(strings.NewReader("x"), "")
	assert.Error(t, err)
}

func TestOpenRejectsInvalidURL(t *testing.T) {
	tr := &HttpTransport{}
	_, err := tr.Open("://not-a-url", http.MethodPost, nil)
	assert.Error(t, err)
}

func TestDefaultTimeoutsApplyWhenUnset(t *testing.T) {
	tr := &HttpTransport{}
	assert.Equal(t, DefaultConnectTimeout, tr.connectTimeout())
	assert.Equal(t, DefaultReadTimeout, tr.readTimeout())
}

func TestCustomTimeoutsOverrideDefaults(t *testing.T) {
	tr := &HttpTransport{ConnectTimeout: 5 * time.Second, ReadTimeout: 10 * time.Second}
	assert.Equal(t, 5*time.Second, tr.connectTimeout())
	assert.Equal(t, 10*time.Second, tr.readTimeout())
}

func TestDefaultTLSConfigTrustsAllServers(t *testing.T) {
	tr := &HttpTransport{}
	assert.True(t, tr.tlsConfig().InsecureSkipVerify)
}
