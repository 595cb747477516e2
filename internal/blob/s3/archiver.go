package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

// SettlementSource is the slice of domain.PoolStore the archiver reads.
type SettlementSource interface {
	ListSettlements(ctx context.Context, opts domain.ListOpts) ([]domain.SettlementReport, error)
	ListEventLedger(ctx context.Context, eventID string) ([]domain.LedgerEntry, error)
}

// ArchivedSettlement is one JSONL line of a settlement archive.
type ArchivedSettlement struct {
	Report domain.SettlementReport `json:"report"`
	Ledger []domain.LedgerEntry    `json:"ledger"`
}

// multipartThreshold is the archive size above which uploads go through the
// transfer manager.
const multipartThreshold int64 = 2 * minPartSize

// Archiver implements domain.Archiver. Archived rows stay in the primary
// store; pruning them is a separate, explicit step.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	source SettlementSource
	audit  domain.AuditStore

	multipartAt int64
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver. reader is used to skip windows that are
// already in the bucket.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, source SettlementSource, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:      writer,
		reader:      reader,
		source:      source,
		audit:       audit,
		multipartAt: multipartThreshold,
	}
}

// ArchiveSettlements uploads every event settled in [since, until), with its
// ledger entries, as one JSONL object and records the upload in the audit
// log. It returns the number of settlements written. A window whose object
// already exists, left behind by a run whose audit write failed, is not
// uploaded again; only the audit entry is written.
func (a *Archiver) ArchiveSettlements(ctx context.Context, since, until time.Time) (int64, error) {
	reports, err := a.source.ListSettlements(ctx, domain.ListOpts{Since: &since, Until: &until})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(reports) == 0 {
		return 0, nil
	}

	path := ArchivePath(since, until)
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements: %w", err)
	}

	count := int64(len(reports))
	if !exists {
		if err := a.upload(ctx, path, reports); err != nil {
			return 0, err
		}
	}

	if err := a.audit.Log(ctx, domain.AuditArchiveSettlements, map[string]any{
		"path":     path,
		"count":    count,
		"since":    since.UTC().Format(time.RFC3339),
		"until":    until.UTC().Format(time.RFC3339),
		"uploaded": !exists,
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settlements audit log: %w", err)
	}
	return count, nil
}

func (a *Archiver) upload(ctx context.Context, path string, reports []domain.SettlementReport) error {
	records := make([]ArchivedSettlement, 0, len(reports))
	for _, r := range reports {
		ledger, err := a.source.ListEventLedger(ctx, r.EventID)
		if err != nil {
			return fmt.Errorf("s3blob: archive ledger %s: %w", r.EventID, err)
		}
		records = append(records, ArchivedSettlement{Report: r, Ledger: ledger})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	if int64(len(buf)) >= a.multipartAt {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}
	return nil
}

// ArchivePath partitions archives by the month of until and names the file
// after the window, so consecutive runs never overwrite each other:
//
//	archive/settlements/2026-03/20260301T000000Z_20260301T010000Z.jsonl
func ArchivePath(since, until time.Time) string {
	const stamp = "20060102T150405Z"
	return fmt.Sprintf("%s%s_%s.jsonl",
		MonthPrefix(until), since.UTC().Format(stamp), until.UTC().Format(stamp))
}

// MonthPrefix is the key prefix shared by every archive of t's month.
func MonthPrefix(t time.Time) string {
	return "archive/settlements/" + t.UTC().Format("2006-01") + "/"
}

// ReadArchive decodes a settlement archive written by ArchiveSettlements.
func ReadArchive(ctx context.Context, reader domain.BlobReader, path string) ([]ArchivedSettlement, error) {
	body, err := reader.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return decodeJSONL(body)
}

// FindSettlement looks eventID up in the archives. location is either one
// archive object (ending in .jsonl) or a month such as "2026-03", in which
// case every archive of that month is searched in key order.
func FindSettlement(ctx context.Context, reader domain.BlobReader, location, eventID string) (ArchivedSettlement, error) {
	var paths []string
	if strings.HasSuffix(location, ".jsonl") {
		ok, err := reader.Exists(ctx, location)
		if err != nil {
			return ArchivedSettlement{}, err
		}
		if !ok {
			return ArchivedSettlement{}, fmt.Errorf("s3blob: archive %s: %w", location, domain.ErrNotFound)
		}
		paths = []string{location}
	} else {
		month, err := time.Parse("2006-01", location)
		if err != nil {
			return ArchivedSettlement{}, fmt.Errorf("s3blob: archive location %q is neither a .jsonl object nor a YYYY-MM month", location)
		}
		infos, err := reader.List(ctx, MonthPrefix(month))
		if err != nil {
			return ArchivedSettlement{}, err
		}
		for _, info := range infos {
			if strings.HasSuffix(info.Path, ".jsonl") {
				paths = append(paths, info.Path)
			}
		}
		sort.Strings(paths)
	}

	for _, p := range paths {
		records, err := ReadArchive(ctx, reader, p)
		if err != nil {
			return ArchivedSettlement{}, err
		}
		for _, rec := range records {
			if rec.Report.EventID == eventID {
				return rec, nil
			}
		}
	}
	return ArchivedSettlement{}, fmt.Errorf("s3blob: event %s in archive %s: %w", eventID, location, domain.ErrNotFound)
}

func decodeJSONL(r io.Reader) ([]ArchivedSettlement, error) {
	var out []ArchivedSettlement
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec ArchivedSettlement
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("s3blob: decode archive line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read archive: %w", err)
	}
	return out, nil
}

// marshalJSONL writes one compact JSON value per line.
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
