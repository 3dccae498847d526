package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartnershipValidate(t *testing.T) {
	t.Run("async without receipt url", func(t *testing.T) {
		p := &Partnership{MDNMode: MDNAsync}
		assert.Error(t, p.Validate())
	})

	t.Run("sign without sender alias", func(t *testing.T) {
		p := &Partnership{SignAlgorithm: "sha256"}
		assert.Error(t, p.Validate())
	})

	t.Run("encrypt without receiver alias", func(t *testing.T) {
		p := &Partnership{EncryptAlgorithm: "aes256_cbc"}
		assert.Error(t, p.Validate())
	})

	t.Run("valid minimal partnership", func(t *testing.T) {
		p := &Partnership{MDNMode: MDNNone}
		assert.NoError(t, p.Validate())
	})

	t.Run("valid fully configured partnership", func(t *testing.T) {
		p := &Partnership{
			MDNMode:            MDNAsync,
			ReceiptDeliveryURL: "https://partner.example/mdn",
			SignAlgorithm:      "sha256",
			SenderCertAlias:    "sender-key",
			EncryptAlgorithm:   "aes256_cbc",
			ReceiverCertAlias:  "receiver-cert",
		}
		assert.NoError(t, p.Validate())
	})
}

func TestMICEqual(t *testing.T) {
	a := MIC{Digest: []byte{1, 2, 3}, Algorithm: "sha-256"}
	b := MIC{Digest: []byte{1, 2, 3}, Algorithm: "sha-256"}
	c := MIC{Digest: []byte{1, 2, 4}, Algorithm: "sha-256"}
	d := MIC{Digest: []byte{1, 2, 3}, Algorithm: "sha256"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "different digest must not be equal")
	assert.False(t, a.Equal(d), "different algorithm identifier must not be equal, case-sensitively")
}

func TestAttributes(t *testing.T) {
	a := NewAttributes()
	assert.Equal(t, "", a.Get(AttrStatus))
	a.Set(AttrStatus, StatusPending)
	assert.Equal(t, StatusPending, a.Get(AttrStatus))
}

func TestNewMessageIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewMessageID()
		require.False(t, seen[id], "message id collision: %s", id)
		seen[id] = true
	}
}

func TestMessageBodyNonNil(t *testing.T) {
	body := NewBodyPart("application/octet-stream", []byte("hello world"))
	msg := New(NewMessageID(), body, &Partnership{})
	require.NotNil(t, msg.Body)
	assert.Equal(t, "application/octet-stream", msg.ContentType)
}
