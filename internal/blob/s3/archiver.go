package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/britej3/Freq-trader/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// LedgerSource is the part of the ledger the archiver reads.
type LedgerSource interface {
	TradeHistory() []domain.Trade
	Entries() []domain.LedgerEntry
}

// ObjectChecker reports whether an archive object already exists.
type ObjectChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ArchiverConfig tunes the archiver.
type ArchiverConfig struct {
	// Prefix is the key prefix, e.g. "arbbot/prod".
	Prefix string
	// MultipartThreshold switches to multipart uploads for larger payloads.
	MultipartThreshold int64
	PartSize           int64
}

// ArchiveResult describes one archive pass.
type ArchiveResult struct {
	Trades  int
	Entries int
	Paths   []string
}

// Archiver uploads ledger records appended since the previous pass. Records
// are never deleted from the ledger; the archive is an off-box copy.
type Archiver struct {
	cfg    ArchiverConfig
	writer domain.BlobWriter
	exists ObjectChecker
	src    LedgerSource
	audit  domain.AuditStore
	logger *slog.Logger

	mu        sync.Mutex
	tradeMark int
	entryMark uint64
}

// NewArchiver creates an Archiver. exists and audit may be nil.
func NewArchiver(cfg ArchiverConfig, writer domain.BlobWriter, exists ObjectChecker, src LedgerSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	if cfg.MultipartThreshold <= 0 {
		cfg.MultipartThreshold = 4 * minPartSize
	}
	return &Archiver{
		cfg:    cfg,
		writer: writer,
		exists: exists,
		src:    src,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Archive uploads new trades and entries as JSONL objects keyed by date and
// starting position. Watermarks only advance after a successful upload, so a
// failed pass is retried in full next time.
func (a *Archiver) Archive(ctx context.Context, now time.Time) (ArchiveResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var res ArchiveResult
	day := now.UTC().Format("2006-01-02")

	trades := a.src.TradeHistory()
	if a.tradeMark < len(trades) {
		batch := trades[a.tradeMark:]
		p := a.objectPath("trades", day, fmt.Sprintf("%08d", a.tradeMark))
		buf, err := marshalJSONL(batch)
		if err == nil {
			err = a.upload(ctx, p, buf)
		}
		if err != nil {
			return res, fmt.Errorf("s3blob: archive trades: %w", err)
		}
		a.tradeMark = len(trades)
		res.Trades, res.Paths = len(batch), append(res.Paths, p)
	}

	var fresh []domain.LedgerEntry
	for _, e := range a.src.Entries() {
		if e.Seq > a.entryMark {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) > 0 {
		p := a.objectPath("entries", day, fmt.Sprintf("%012d", fresh[0].Seq))
		buf, err := marshalJSONL(fresh)
		if err == nil {
			err = a.upload(ctx, p, buf)
		}
		if err != nil {
			return res, fmt.Errorf("s3blob: archive entries: %w", err)
		}
		a.entryMark = fresh[len(fresh)-1].Seq
		res.Entries, res.Paths = len(fresh), append(res.Paths, p)
	}

	if len(res.Paths) == 0 {
		return res, nil
	}
	a.logger.InfoContext(ctx, "ledger archived",
		slog.Int("trades", res.Trades),
		slog.Int("entries", res.Entries),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.ledger", map[string]any{
			"paths":   res.Paths,
			"trades":  res.Trades,
			"entries": res.Entries,
		}); err != nil {
			a.logger.WarnContext(ctx, "audit archive failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// Run archives every interval until ctx ends, then makes a final pass.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			if _, err := a.Archive(fctx, time.Now()); err != nil {
				a.logger.Error("final archive failed", slog.String("error", err.Error()))
			}
			return nil
		case now := <-t.C:
			if _, err := a.Archive(ctx, now); err != nil {
				a.logger.WarnContext(ctx, "archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (a *Archiver) objectPath(kind, day, from string) string {
	return path.Join(a.cfg.Prefix, "ledger", kind, day, from+".jsonl")
}

func (a *Archiver) upload(ctx context.Context, p string, buf []byte) error {
	if a.exists != nil {
		ok, err := a.exists.Exists(ctx, p)
		if err != nil {
			return err
		}
		if ok {
			a.logger.DebugContext(ctx, "archive object exists, skipping", slog.String("path", p))
			return nil
		}
	}
	if int64(len(buf)) > a.cfg.MultipartThreshold {
		return a.writer.PutMultipart(ctx, p, bytes.NewReader(buf), a.cfg.PartSize)
	}
	return a.writer.Put(ctx, p, bytes.NewReader(buf), contentTypeJSONL)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
