package headers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shucki/as2-lib/pkg/message"
)

func newTestMessage() *message.Message {
	p := &message.Partnership{
		SenderAS2ID:   "SenderID",
		ReceiverAS2ID: "ReceiverID",
		URL:           "https://partner.example.com/as2",
	}
	body := message.NewBodyPart("application/edi-x12", []byte("ISA*00*..."))
	msg := message.New("20260803-120000-000-host@sender", body, p)
	msg.Subject = "Test transmission"
	msg.SenderEmail = "as2@sender.example.com"
	return msg
}

func TestBuildSetsMandatoryHeaders(t *testing.T) {
	b := &Builder{}
	msg := newTestMessage()

	h, err := b.Build(msg)
	require.NoError(t, err)

	assert.Equal(t, "1.0", h["Mime-Version"])
	assert.Equal(t, "1.1", h["AS2-Version"])
	assert.Equal(t, "SenderID", h["AS2-From"])
	assert.Equal(t, "ReceiverID", h["AS2-To"])
	assert.Equal(t, "https://partner.example.com/as2", h["Recipient-Address"])
	assert.Equal(t, "Test transmission", h["Subject"])
	assert.Equal(t, "as2@sender.example.com", h["From"])
	assert.Equal(t, "application/edi-x12", h["Content-Type"])
	assert.Equal(t, "binary", h["Content-Transfer-Encoding"])
	assert.Equal(t, msg.MessageID, h["Message-ID"])
	assert.Contains(t, h, "Date")
	assert.Equal(t, DefaultUserAgent, h["User-Agent"])
}

func TestBuildOmitsMDNHeadersWhenNotRequested(t *testing.T) {
	b := &Builder{}
	msg := newTestMessage()

	h, err := b.Build(msg)
	require.NoError(t, err)
	assert.NotContains(t, h, "Disposition-Notification-Options")
	assert.NotContains(t, h, "Receipt-Delivery-Option")
}

func TestBuildSetsAsyncMDNHeaders(t *testing.T) {
	b := &Builder{}
	msg := newTestMessage()
	msg.Partnership.MDNMode = message.MDNAsync
	msg.Partnership.ReceiptDeliveryURL = "https://sender.example.com/as2/mdn"
	msg.Partnership.DispositionNotificationTo = "as2@sender.example.com"

	h, err := b.Build(msg)
	require.NoError(t, err)
	assert.Equal(t, "https://sender.example.com/as2/mdn", h["Receipt-Delivery-Option"])
	assert.Equal(t, "as2@sender.example.com", h["Disposition-Notification-To"])
	assert.Contains(t, h["Disposition-Notification-Options"], "signed-receipt-protocol")
}

func TestBuildAsyncMDNWithoutDeliveryURLErrors(t *testing.T) {
	b := &Builder{}
	msg := newTestMessage()
	msg.Partnership.MDNMode = message.MDNAsync

	_, err := b.Build(msg)
	assert.Error(t, err)
}

func TestBuildQuotesValuesWithSpecialCharsRegardlessOfFlag(t *testing.T) {
	b := &Builder{}
	msg := newTestMessage()
	msg.Partnership.SenderAS2ID = "Sender, Inc"

	h, err := b.Build(msg)
	require.NoError(t, err)
	assert.Equal(t, `"Sender, Inc"`, h["AS2-From"])
}

func TestBuildQuotesAllValuesWhenFlagSet(t *testing.T) {
	b := &Builder{}
	msg := newTestMessage()
	msg.Partnership.QuoteHeaderValues = true

	h, err := b.Build(msg)
	require.NoError(t, err)
	assert.Equal(t, `"SenderID"`, h["AS2-From"])
	assert.Equal(t, `"ReceiverID"`, h["AS2-To"])
}

func TestBuildIsIdempotent(t *testing.T) {
	b := &Builder{}
	msg := newTestMessage()

	first, err := b.Build(msg)
	require.NoError(t, err)
	second, err := b.Build(msg)
	require.NoError(t, err)

	delete(first, "Date")
	delete(second, "Date")
	assert.Equal(t, first, second)
}

func TestBuildPreservesContentDispositionFromSourceHeaders(t *testing.T) {
	b := &Builder{}
	msg := newTestMessage()
	msg.Headers["Content-Disposition"] = `attachment; filename="invoice.edi"`

	h, err := b.Build(msg)
	require.NoError(t, err)
	assert.Equal(t, `attachment; filename="invoice.edi"`, h["Content-Disposition"])
}
