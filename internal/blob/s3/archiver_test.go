package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/poolbet/internal/domain"
)

type memBlobs struct {
	objects   map[string][]byte
	types     map[string]string
	multipart []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.multipart = append(m.multipart, path)
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	_, ok := m.objects[path]
	return ok, nil
}

type stubSource struct {
	reports []domain.SettlementReport
	ledger  map[string][]domain.LedgerEntry
	gotOpts domain.ListOpts
}

func (s *stubSource) ListSettlements(_ context.Context, opts domain.ListOpts) ([]domain.SettlementReport, error) {
	s.gotOpts = opts
	return s.reports, nil
}

func (s *stubSource) ListEventLedger(_ context.Context, eventID string) ([]domain.LedgerEntry, error) {
	return s.ledger[eventID], nil
}

type recordingAudit struct {
	events []string
	detail []map[string]any
}

func (a *recordingAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.events = append(a.events, event)
	a.detail = append(a.detail, detail)
	return nil
}

func (a *recordingAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, errors.New("not implemented")
}

func TestArchiveSettlements(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)
	src := &stubSource{
		reports: []domain.SettlementReport{
			{EventID: "ev-1", WinningOptionID: "yes", TotalPool: decimal.NewFromInt(1000), HouseCut: decimal.NewFromInt(45)},
			{EventID: "ev-2", WinningOptionID: "no", TotalPool: decimal.NewFromInt(10)},
		},
		ledger: map[string][]domain.LedgerEntry{
			"ev-1": {{ID: "l1", AccountID: "house", EventID: "ev-1", Kind: domain.LedgerHouseCut, Amount: decimal.NewFromInt(45)}},
		},
	}
	blobs := newMemBlobs()
	audit := &recordingAudit{}

	n, err := NewArchiver(blobs, blobs, src, audit).ArchiveSettlements(context.Background(), since, until)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NotNil(t, src.gotOpts.Since)
	assert.True(t, src.gotOpts.Until.Equal(until))

	path := "archive/settlements/2026-03/20260301T000000Z_20260301T010000Z.jsonl"
	assert.Equal(t, path, ArchivePath(since, until))
	assert.Equal(t, "application/x-ndjson", blobs.types[path])
	assert.Equal(t, []string{domain.AuditArchiveSettlements}, audit.events)
	assert.Equal(t, int64(2), audit.detail[0]["count"])
	assert.Equal(t, "2026-03-01T01:00:00Z", audit.detail[0]["until"])
	assert.Equal(t, true, audit.detail[0]["uploaded"])
	assert.Empty(t, blobs.multipart)

	recs, err := ReadArchive(context.Background(), blobs, path)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "ev-1", recs[0].Report.EventID)
	assert.True(t, recs[0].Report.HouseCut.Equal(decimal.NewFromInt(45)))
	require.Len(t, recs[0].Ledger, 1)
	assert.Equal(t, domain.LedgerHouseCut, recs[0].Ledger[0].Kind)
	assert.Empty(t, recs[1].Ledger)
}

func TestArchiveSettlements_NothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	audit := &recordingAudit{}
	now := time.Now()

	n, err := NewArchiver(blobs, blobs, &stubSource{}, audit).ArchiveSettlements(context.Background(), now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
	assert.Empty(t, audit.events)
}

func TestArchiveSettlements_ExistingWindowIsNotRewritten(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)
	path := ArchivePath(since, until)
	blobs := newMemBlobs()
	blobs.objects[path] = []byte("previous upload\n")
	audit := &recordingAudit{}
	src := &stubSource{reports: []domain.SettlementReport{{EventID: "ev-1"}}}

	n, err := NewArchiver(blobs, blobs, src, audit).ArchiveSettlements(context.Background(), since, until)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, "previous upload\n", string(blobs.objects[path]))
	require.Len(t, audit.detail, 1)
	assert.Equal(t, false, audit.detail[0]["uploaded"])
}

func TestArchiveSettlements_LargeWindowUsesMultipart(t *testing.T) {
	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)
	blobs := newMemBlobs()
	src := &stubSource{reports: []domain.SettlementReport{{EventID: "ev-1"}}}

	a := NewArchiver(blobs, blobs, src, &recordingAudit{})
	a.multipartAt = 1
	_, err := a.ArchiveSettlements(context.Background(), since, until)
	require.NoError(t, err)
	assert.Equal(t, []string{ArchivePath(since, until)}, blobs.multipart)
}

func TestFindSettlement(t *testing.T) {
	ctx := context.Background()
	blobs := newMemBlobs()
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	windows := []struct {
		since, until time.Time
		events       []string
	}{
		{march, march.Add(time.Hour), []string{"ev-1"}},
		{march.Add(time.Hour), march.Add(2 * time.Hour), []string{"ev-2", "ev-3"}},
		{march.AddDate(0, 1, 0), march.AddDate(0, 1, 0).Add(time.Hour), []string{"ev-4"}},
	}
	for _, w := range windows {
		src := &stubSource{}
		for _, id := range w.events {
			src.reports = append(src.reports, domain.SettlementReport{EventID: id})
		}
		_, err := NewArchiver(blobs, blobs, src, &recordingAudit{}).ArchiveSettlements(ctx, w.since, w.until)
		require.NoError(t, err)
	}

	rec, err := FindSettlement(ctx, blobs, "2026-03", "ev-3")
	require.NoError(t, err)
	assert.Equal(t, "ev-3", rec.Report.EventID)

	_, err = FindSettlement(ctx, blobs, "2026-03", "ev-4")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec, err = FindSettlement(ctx, blobs, ArchivePath(windows[0].since, windows[0].until), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, "ev-1", rec.Report.EventID)

	_, err = FindSettlement(ctx, blobs, "archive/settlements/2026-05/missing.jsonl", "ev-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = FindSettlement(ctx, blobs, "march", "ev-1")
	assert.Error(t, err)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio.local:9000", normaliseEndpoint("minio.local:9000", true))
	assert.Equal(t, "http://minio.local:9000", normaliseEndpoint("minio.local:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
