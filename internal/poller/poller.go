// Package poller implements the directory-polling ingress: it watches an
// outbox directory, waits for each file to stop growing, wraps it as an AS2
// message, and hands it to a Sender — then routes the file to the sent,
// pending, or error directory based on the outcome.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Shucki/as2-lib/pkg/message"
)

// DefaultMimeType is used for a read file when neither the per-file
// attributes nor Config.MimeType name one.
const DefaultMimeType = "application/octet-stream"

// DefaultPollInterval is used when Config.PollInterval is zero.
const DefaultPollInterval = 5 * time.Second

// MoveFailurePolicy decides what happens when moving a successfully sent
// file into the sent directory fails. The source implementation this core
// is modeled on instantiates an exception in this situation and never
// throws or logs it — a silent drop the spec calls out as an open question
// (design note in spec §9). This core makes the choice explicit instead of
// guessing.
type MoveFailurePolicy int

const (
	// LogAndContinue logs the failure and leaves the file in the outbox.
	// The next poll cycle will see it as a brand-new file (size presumably
	// unchanged) and resend it — accepting a duplicate delivery over an
	// unattended pileup. This is the default.
	LogAndContinue MoveFailurePolicy = iota
	// TerminateOnMoveFailure invokes Config.OnMoveFailure, if set, and
	// leaves the file in the outbox. The poller does not exclude the file
	// from later cycles: unless OnMoveFailure moves or removes it, it is
	// picked up and sent again, as under LogAndContinue.
	TerminateOnMoveFailure
)

// Sender is the subset of internal/sender.Sender the poller depends on. A
// narrow interface keeps the poller testable without a live HTTP partner.
type Sender interface {
	Send(ctx context.Context, msg *message.Message) error
}

// PartnershipResolver maps the attributes parsed from a file's name (and
// Config.Defaults) to the partnership that should govern its send.
// Partnership lookup is an external collaborator per the spec's scope —
// this interface is its contract.
type PartnershipResolver interface {
	Resolve(attrs map[string]string) (*message.Partnership, error)
}

// Config configures a Poller.
type Config struct {
	// OutboxDir and ErrorDir are required.
	OutboxDir string
	ErrorDir  string
	// SentDir is optional; when empty, successfully sent files are deleted
	// rather than moved.
	SentDir string
	// PendingDir is where a copy of a file whose MDN is deferred (async
	// mode) is placed after a successful send. Required only if any
	// partnership reachable from this poller uses asynchronous MDN.
	PendingDir string

	// Format and Delimiters describe how to parse attributes out of a
	// file's name, e.g. Format "partnership.subject.filename" with
	// Delimiters "." splits "acme.invoice.inv-1.csv" into
	// {partnership: "acme", subject: "invoice", filename: "inv-1.csv"}
	// (the last placeholder absorbs any remaining delimiter-split
	// segments). Format names one placeholder per Delimiters-separated
	// segment; Empty Format disables filename parsing.
	Format     string
	Delimiters string
	// Defaults supplies attributes not present in the filename, as
	// "key=value,key=value". Filename-derived attributes take precedence.
	Defaults string

	// MimeType is the Content-Type assigned to a read file's body part
	// when no "mimetype" attribute was parsed from its name. Defaults to
	// DefaultMimeType.
	MimeType string
	// SendFilename, when true, sets Content-Disposition to the original
	// filename.
	SendFilename bool

	// DefaultSubject and DefaultSenderEmail fill the Message fields the
	// Sender requires when no "subject" or "email" attribute is present.
	DefaultSubject     string
	DefaultSenderEmail string

	// PollInterval is the interval Run polls the outbox at. Defaults to
	// DefaultPollInterval.
	PollInterval time.Duration

	// MoveFailurePolicy governs behavior when routing a sent file to
	// SentDir fails. Defaults to LogAndContinue.
	MoveFailurePolicy MoveFailurePolicy
	// OnMoveFailure is invoked when MoveFailurePolicy is
	// TerminateOnMoveFailure and a move fails.
	OnMoveFailure func(path string, err error)
}

// Poller scans Config.OutboxDir on a fixed interval, waits for each file's
// size to stabilize across two consecutive polls, and submits it to Sender.
// A Poller owns its tracked-files map exclusively; it is not safe to call
// Poll concurrently from more than one goroutine, matching the spec's
// "single thread per poller" simplification of the source's shared map.
type Poller struct {
	cfg      Config
	sender   Sender
	resolver PartnershipResolver
	logger   *slog.Logger

	tracked map[string]int64
}

// New validates cfg and returns a Poller. OutboxDir and ErrorDir must be
// set; both are created if absent.
func New(cfg Config, sender Sender, resolver PartnershipResolver, logger *slog.Logger) (*Poller, error) {
	if cfg.OutboxDir == "" {
		return nil, fmt.Errorf("poller: OutboxDir is required")
	}
	if cfg.ErrorDir == "" {
		return nil, fmt.Errorf("poller: ErrorDir is required")
	}
	if cfg.MimeType == "" {
		cfg.MimeType = DefaultMimeType
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if sender == nil {
		return nil, fmt.Errorf("poller: Sender is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{cfg.OutboxDir, cfg.ErrorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("poller: creating %s: %w", dir, err)
		}
	}
	if cfg.SentDir != "" {
		if err := os.MkdirAll(cfg.SentDir, 0o755); err != nil {
			return nil, fmt.Errorf("poller: creating %s: %w", cfg.SentDir, err)
		}
	}
	if cfg.PendingDir != "" {
		if err := os.MkdirAll(cfg.PendingDir, 0o755); err != nil {
			return nil, fmt.Errorf("poller: creating %s: %w", cfg.PendingDir, err)
		}
	}
	return &Poller{
		cfg:      cfg,
		sender:   sender,
		resolver: resolver,
		logger:   logger,
		tracked:  make(map[string]int64),
	}, nil
}

// Run polls the outbox on Config.PollInterval until ctx is canceled.
// A cancellation is honored between poll cycles, not mid-cycle: the
// in-flight cycle (and any sends it started) runs to completion, per the
// spec's cancellation contract in §5.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Info("directory poller started", "outbox", p.cfg.OutboxDir, "interval", p.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("directory poller stopped")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one scan-and-process cycle over the outbox. A file is
// processed iff it was tracked with the same size on the previous poll and
// is not write-locked on this one; every outcome (success or failure)
// drops it from the tracked map.
func (p *Poller) Poll(ctx context.Context) {
	entries, err := os.ReadDir(p.cfg.OutboxDir)
	if err != nil {
		p.logger.Error("listing outbox", "dir", p.cfg.OutboxDir, "error", err)
		return
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(p.cfg.OutboxDir, entry.Name())

		locked, err := isWriteLocked(path)
		if err != nil {
			p.logger.Warn("checking file lock", "path", path, "error", err)
			continue
		}
		if locked {
			// A locked tracked file is dropped per the spec; an
			// untracked one is simply not picked up yet.
			continue
		}

		info, err := entry.Info()
		if err != nil {
			p.logger.Warn("statting file", "path", path, "error", err)
			continue
		}

		seen[path] = true
		size := info.Size()
		prevSize, wasTracked := p.tracked[path]
		if wasTracked && prevSize == size {
			delete(p.tracked, path)
			p.processFile(ctx, path)
			continue
		}
		p.tracked[path] = size
	}

	for path := range p.tracked {
		if !seen[path] {
			delete(p.tracked, path)
		}
	}
}

// processFile reads path, builds a Message from it, submits it to the
// Sender, and routes the file per the outcome.
func (p *Poller) processFile(ctx context.Context, path string) {
	log := p.logger.With("file", path)

	content, err := os.ReadFile(path)
	if err != nil {
		log.Error("reading outbox file", "error", err)
		p.routeError(path)
		return
	}

	attrs := p.attributesFor(filepath.Base(path))

	var partnership *message.Partnership
	if p.resolver != nil {
		partnership, err = p.resolver.Resolve(attrs)
	}
	if err != nil || partnership == nil {
		log.Error("resolving partnership", "error", err)
		p.routeError(path)
		return
	}

	mimeType := p.cfg.MimeType
	if v := attrs["mimetype"]; v != "" {
		mimeType = v
	}
	body := message.NewBodyPart(mimeType, content)

	msg := message.New(message.NewMessageID(), body, partnership)
	msg.Subject = firstNonEmpty(attrs["subject"], p.cfg.DefaultSubject)
	msg.SenderEmail = firstNonEmpty(attrs["email"], p.cfg.DefaultSenderEmail)

	if p.cfg.SendFilename {
		msg.Headers["Content-Disposition"] = fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path))
	}

	var pendingPath string
	if partnership.MDNMode == message.MDNAsync && p.cfg.PendingDir != "" {
		pendingPath = filepath.Join(p.cfg.PendingDir, filepath.Base(path))
		msg.Attrs.Set(message.AttrPendingFile, pendingPath)
	}

	sendErr := p.sender.Send(ctx, msg)
	if sendErr != nil {
		log.Error("AS2 send failed", "message_id", msg.MessageID, "error", sendErr)
		p.routeError(path)
		return
	}

	if pendingPath != "" && msg.Attrs.Get(message.AttrStatus) == message.StatusPending {
		if err := copyFile(path, pendingPath); err != nil {
			log.Error("copying to pending directory", "pending_path", pendingPath, "error", err)
		}
	}

	p.routeSent(path)
}

// routeSent moves a successfully sent file into SentDir, or deletes it if
// none is configured.
func (p *Poller) routeSent(path string) {
	if p.cfg.SentDir == "" {
		if err := os.Remove(path); err != nil {
			p.logger.Error("deleting sent file", "file", path, "error", err)
		}
		return
	}
	dest := filepath.Join(p.cfg.SentDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		p.handleMoveFailure(path, err)
	}
}

func (p *Poller) handleMoveFailure(path string, err error) {
	switch p.cfg.MoveFailurePolicy {
	case TerminateOnMoveFailure:
		p.logger.Error("moving sent file failed, leaving in outbox for operator intervention", "file", path, "error", err)
		if p.cfg.OnMoveFailure != nil {
			p.cfg.OnMoveFailure(path, err)
		}
	default:
		p.logger.Warn("moving sent file failed, file remains in outbox and may be resent", "file", path, "error", err)
	}
}

// routeError moves a failed file into ErrorDir, suffixing its name to
// avoid colliding with a previous failure of the same file.
func (p *Poller) routeError(path string) {
	name := filepath.Base(path)
	for n := 1; n <= 1000; n++ {
		dest := filepath.Join(p.cfg.ErrorDir, fmt.Sprintf("%s.err-%03d", name, n))
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			if err := os.Rename(path, dest); err != nil {
				p.logger.Error("moving file to error directory", "file", path, "error", err)
			}
			return
		}
	}
	p.logger.Error("exhausted error-directory suffixes", "file", path)
}

// attributesFor parses Config.Defaults then overlays attributes parsed
// from name per Config.Format/Config.Delimiters.
func (p *Poller) attributesFor(name string) map[string]string {
	attrs := parseDefaults(p.cfg.Defaults)
	for k, v := range parseFilename(p.cfg.Format, p.cfg.Delimiters, name) {
		attrs[k] = v
	}
	return attrs
}

// parseFilename splits name on any rune in delimiters and zips the pieces
// against the %placeholder% tokens in format, in order. The last
// placeholder absorbs any extra delimiter-split segments (so a filename
// attribute can itself contain the delimiter, e.g. a dotted file
// extension). An empty format yields no attributes.
func parseFilename(format, delimiters, name string) map[string]string {
	out := map[string]string{}
	if format == "" || delimiters == "" {
		return out
	}
	placeholders := extractPlaceholders(format, delimiters)
	if len(placeholders) == 0 {
		return out
	}
	parts := splitAny(name, delimiters)
	for i, key := range placeholders {
		if i >= len(parts) {
			break
		}
		if i == len(placeholders)-1 {
			out[key] = strings.Join(parts[i:], string(delimiters[0]))
		} else {
			out[key] = parts[i]
		}
	}
	return out
}

// extractPlaceholders splits format the same way a filename is split,
// trimming any "%" wrapping a placeholder name so both "partnership" and
// "%partnership%" style formats work.
func extractPlaceholders(format, delimiters string) []string {
	raw := splitAny(format, delimiters)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		out = append(out, strings.Trim(tok, "%"))
	}
	return out
}

func splitAny(s, delimiters string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(delimiters, r)
	})
}

// parseDefaults parses "key=value,key=value" into a map.
func parseDefaults(defaults string) map[string]string {
	out := map[string]string{}
	if defaults == "" {
		return out
	}
	for _, pair := range strings.Split(defaults, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// isWriteLocked tests whether path can be opened for append. This is a
// best-effort check — POSIX does not generally prevent a second opener
// even while another process is mid-write — but it is the same test the
// spec describes, and it does catch the common case of a sibling process
// holding the file open exclusively on Windows-style filesystems.
func isWriteLocked(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		if os.IsPermission(err) {
			return true, nil
		}
		return false, err
	}
	return false, f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
