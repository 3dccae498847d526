// Package config handles configuration loading for the AS2 sender core.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax), the same convention the
// AS4 sibling implementation uses. A Config carries the poller/transport
// attributes enumerated in the spec's external-interfaces section plus
// one PartnershipConfig per trading partner, each of which maps directly
// onto a [message.Partnership] snapshot.
//
// # Example Configuration
//
//	sender:
//	  connecttimeout: 60000
//	  readtimeout: 60000
//	  quoteheadervalues: false
//	  outboxdir: /var/as2/outbox
//	  errordir: /var/as2/error
//	  sentdir: /var/as2/sent
//	  pendingdir: /var/as2/pending
//	  pendinginfodir: /var/as2/pending-info
//	  mimetype: application/EDI-X12
//	  sendfilename: true
//	  dumpdir: ${AS2_DUMP_DIR}
//
//	keystore:
//	  mode: file
//	  file:
//	    keyDir: /etc/as2/keys
//
//	partnerships:
//	  - id: acme
//	    senderAs2Id: MyCompanyAS2
//	    receiverAs2Id: AcmeAS2
//	    url: https://acme.example.com/as2
//	    signAlgorithm: sha256
//	    encryptAlgorithm: aes256_cbc
//	    mdnMode: sync
//	    senderCertAlias: mycompany
//	    receiverCertAlias: acme
//	    retryCount: 2
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Shucki/as2-lib/internal/keystore"
	"github.com/Shucki/as2-lib/pkg/message"
)

// Config is the root configuration structure.
type Config struct {
	Sender       SenderConfig        `yaml:"sender"`
	Keystore     keystore.Config     `yaml:"keystore"`
	Partnerships []PartnershipConfig `yaml:"partnerships"`
}

// SenderConfig holds the sender/poller attributes enumerated in the spec's
// §6 "Configuration attributes" table.
type SenderConfig struct {
	ConnectTimeoutMS  int  `yaml:"connecttimeout"`
	ReadTimeoutMS     int  `yaml:"readtimeout"`
	QuoteHeaderValues bool `yaml:"quoteheadervalues"`

	OutboxDir      string `yaml:"outboxdir"`
	ErrorDir       string `yaml:"errordir"`
	SentDir        string `yaml:"sentdir"`
	PendingDir     string `yaml:"pendingdir"`
	PendingInfoDir string `yaml:"pendinginfodir"`

	Format     string `yaml:"format"`
	Delimiters string `yaml:"delimiters"`
	Defaults   string `yaml:"defaults"`

	MimeType     string `yaml:"mimetype"`
	SendFilename bool   `yaml:"sendfilename"`

	// DumpDir activates request/response dumping when set. Falls back to
	// the AS2.httpDumpDirectoryOutgoing environment variable per the
	// spec's legacy convenience default, applied here by the outer
	// config loader rather than by the core Sender itself.
	DumpDir string `yaml:"dumpdir"`

	PollIntervalSeconds int `yaml:"pollinterval"`

	UserAgent string `yaml:"useragent"`
}

// PartnershipConfig is the YAML rendering of a [message.Partnership]
// snapshot, looked up by ID from the filename attribute a poller parses
// (see internal/poller.PartnershipResolver).
type PartnershipConfig struct {
	ID string `yaml:"id"`

	SenderAS2ID   string `yaml:"senderAs2Id"`
	ReceiverAS2ID string `yaml:"receiverAs2Id"`
	URL           string `yaml:"url"`

	SignAlgorithm    string `yaml:"signAlgorithm"`
	EncryptAlgorithm string `yaml:"encryptAlgorithm"`

	CompressionType    string `yaml:"compressionType"`
	CompressBeforeSign bool   `yaml:"compressBeforeSign"`

	// MDNMode is "none", "sync", or "async".
	MDNMode                   string `yaml:"mdnMode"`
	ReceiptDeliveryURL        string `yaml:"receiptDeliveryUrl"`
	MDNOptions                string `yaml:"mdnOptions"`
	DispositionNotificationTo string `yaml:"dispositionNotificationTo"`

	ContentTransferEncoding string `yaml:"contentTransferEncoding"`

	SenderCertAlias   string `yaml:"senderCertAlias"`
	ReceiverCertAlias string `yaml:"receiverCertAlias"`

	IncludeCertificateInSignedContent bool `yaml:"includeCertificateInSignedContent"`
	UseRFC3851MICNames                bool `yaml:"useRfc3851MicNames"`
	QuoteHeaderValues                 bool `yaml:"quoteHeaderValues"`

	RetryCount int `yaml:"retryCount"`
}

// Load reads configuration from a YAML file, expanding ${VAR}/$VAR
// references against the process environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Sender.ConnectTimeoutMS == 0 {
		c.Sender.ConnectTimeoutMS = 60000
	}
	if c.Sender.ReadTimeoutMS == 0 {
		c.Sender.ReadTimeoutMS = 60000
	}
	if c.Sender.MimeType == "" {
		c.Sender.MimeType = "application/octet-stream"
	}
	if c.Sender.PollIntervalSeconds == 0 {
		c.Sender.PollIntervalSeconds = 5
	}
	if c.Sender.DumpDir == "" {
		c.Sender.DumpDir = os.Getenv("AS2.httpDumpDirectoryOutgoing")
	}
	if c.Keystore.Mode == "" {
		c.Keystore.Mode = "file"
	}
}

func (c *Config) validate() error {
	if c.Sender.OutboxDir == "" {
		return fmt.Errorf("sender.outboxdir is required")
	}
	if c.Sender.ErrorDir == "" {
		return fmt.Errorf("sender.errordir is required")
	}
	seen := make(map[string]bool, len(c.Partnerships))
	for i := range c.Partnerships {
		p := &c.Partnerships[i]
		if p.ID == "" {
			return fmt.Errorf("partnerships[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("partnerships[%d]: duplicate id %q", i, p.ID)
		}
		seen[p.ID] = true
		if _, err := p.ToPartnership(); err != nil {
			return fmt.Errorf("partnerships[%d] (%s): %w", i, p.ID, err)
		}
	}
	return nil
}

// ConnectTimeout and ReadTimeout convert the configured millisecond values
// to [time.Duration] for the transport layer.
func (s SenderConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutMS) * time.Millisecond
}

func (s SenderConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// PollInterval converts the configured poll interval to a [time.Duration].
func (s SenderConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// ToPartnership converts c to the immutable snapshot the sender core
// consumes, validating the mode string and the invariants from spec §3.
func (c *PartnershipConfig) ToPartnership() (*message.Partnership, error) {
	mode, err := parseMDNMode(c.MDNMode)
	if err != nil {
		return nil, err
	}
	p := &message.Partnership{
		SenderAS2ID:                       c.SenderAS2ID,
		ReceiverAS2ID:                     c.ReceiverAS2ID,
		URL:                               c.URL,
		SignAlgorithm:                     c.SignAlgorithm,
		EncryptAlgorithm:                  c.EncryptAlgorithm,
		CompressionType:                   c.CompressionType,
		CompressBeforeSign:                c.CompressBeforeSign,
		MDNMode:                           mode,
		ReceiptDeliveryURL:                c.ReceiptDeliveryURL,
		MDNOptions:                        c.MDNOptions,
		DispositionNotificationTo:         c.DispositionNotificationTo,
		ContentTransferEncoding:           c.ContentTransferEncoding,
		SenderCertAlias:                   c.SenderCertAlias,
		ReceiverCertAlias:                 c.ReceiverCertAlias,
		IncludeCertificateInSignedContent: c.IncludeCertificateInSignedContent,
		UseRFC3851MICNames:                c.UseRFC3851MICNames,
		QuoteHeaderValues:                 c.QuoteHeaderValues,
		RetryCount:                        c.RetryCount,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseMDNMode(s string) (message.MDNMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return message.MDNNone, nil
	case "sync", "synchronous":
		return message.MDNSync, nil
	case "async", "asynchronous":
		return message.MDNAsync, nil
	default:
		return message.MDNNone, fmt.Errorf("mdnMode: unknown value %q", s)
	}
}

// Partnership looks up a partnership by ID, as resolved from the
// "partnership" attribute a poller parses out of a filename.
func (c *Config) Partnership(id string) (*message.Partnership, error) {
	for i := range c.Partnerships {
		if c.Partnerships[i].ID == id {
			return c.Partnerships[i].ToPartnership()
		}
	}
	return nil, fmt.Errorf("config: no partnership configured with id %q", id)
}

// Resolver adapts a Config to internal/poller.PartnershipResolver,
// resolving the "partnership" filename attribute to a configured
// partnership. It satisfies the interface structurally; no import of
// internal/poller is needed here.
type Resolver struct {
	Cfg *Config
}

// Resolve implements internal/poller.PartnershipResolver.
func (r Resolver) Resolve(attrs map[string]string) (*message.Partnership, error) {
	id := attrs["partnership"]
	if id == "" {
		return nil, fmt.Errorf("config: no \"partnership\" attribute parsed from filename")
	}
	return r.Cfg.Partnership(id)
}
