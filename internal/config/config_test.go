package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shucki/as2-lib/pkg/message"
)

const sampleYAML = `
sender:
  outboxdir: /var/as2/outbox
  errordir: /var/as2/error
  sentdir: /var/as2/sent
  mimetype: application/EDI-X12
  sendfilename: true

keystore:
  mode: file
  file:
    keyDir: ${TEST_KEY_DIR}

partnerships:
  - id: acme
    senderAs2Id: MyCompanyAS2
    receiverAs2Id: AcmeAS2
    url: https://acme.example.com/as2
    signAlgorithm: sha256
    mdnMode: sync
    senderCertAlias: mycompany
  - id: beta
    senderAs2Id: MyCompanyAS2
    receiverAs2Id: BetaAS2
    url: https://beta.example.com/as2
    encryptAlgorithm: aes256_cbc
    mdnMode: async
    receiptDeliveryUrl: https://mycompany.example.com/as2/mdn
    receiverCertAlias: beta
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "as2.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_KEY_DIR", "/etc/as2/keys")
	path := writeConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60000, cfg.Sender.ConnectTimeoutMS)
	assert.Equal(t, 60000, cfg.Sender.ReadTimeoutMS)
	assert.Equal(t, 5, cfg.Sender.PollIntervalSeconds)
	assert.Equal(t, "/etc/as2/keys", cfg.Keystore.File.KeyDir)
	assert.Len(t, cfg.Partnerships, 2)
}

func TestLoadRejectsMissingOutboxDir(t *testing.T) {
	path := writeConfig(t, "sender:\n  errordir: /var/as2/error\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "outboxdir")
}

func TestLoadRejectsAsyncPartnershipWithoutReceiptURL(t *testing.T) {
	path := writeConfig(t, `
sender:
  outboxdir: /var/as2/outbox
  errordir: /var/as2/error
partnerships:
  - id: acme
    senderAs2Id: A
    receiverAs2Id: B
    url: https://acme.example.com/as2
    mdnMode: async
`)
	_, err := Load(path)
	assert.ErrorContains(t, err, "receipt-delivery")
}

func TestPartnershipLookup(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	p, err := cfg.Partnership("acme")
	require.NoError(t, err)
	assert.Equal(t, "sha256", p.SignAlgorithm)
	assert.Equal(t, message.MDNSync, p.MDNMode)

	_, err = cfg.Partnership("nonexistent")
	assert.Error(t, err)
}

func TestResolverImplementsPollerResolverContract(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	r := Resolver{Cfg: cfg}
	p, err := r.Resolve(map[string]string{"partnership": "beta"})
	require.NoError(t, err)
	assert.Equal(t, message.MDNAsync, p.MDNMode)

	_, err = r.Resolve(map[string]string{})
	assert.Error(t, err)
}
