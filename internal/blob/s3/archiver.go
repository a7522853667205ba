package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

// Narrow store interfaces required by the archiver. The archiver only
// needs the time-ranged queries it actually calls, not the full domain
// store interfaces; the Postgres stores satisfy these implicitly.

// FillArchiveStore provides read access to realised fills for archival.
type FillArchiveStore interface {
	// ListFillsBefore returns every fill executed strictly before the
	// given cutoff, across all positions.
	ListFillsBefore(ctx context.Context, before time.Time) ([]domain.ArchivedFill, error)
}

// AuditArchiveStore provides read and delete access to audit rows for
// archival.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// ArchiveImpl implements domain.Archiver by querying the domain stores
// for old records, serialising them to JSONL, and uploading the result
// to S3.
//
// Fill history lives inside live position rows, so archiving fills does
// not delete anything. Audit rows are standalone and are deleted once
// the archive upload has succeeded.
type ArchiveImpl struct {
	writer domain.BlobWriter
	fills  FillArchiveStore
	audit  AuditArchiveStore
	log    domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, fills FillArchiveStore, audit AuditArchiveStore, log domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		fills:  fills,
		audit:  audit,
		log:    log,
	}
}

// ArchiveFills uploads every fill executed before the cutoff to S3 at
// archive/fills/YYYY-MM.jsonl and records the archival in the audit log.
// The count of archived fills is returned.
func (a *ArchiveImpl) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.fills.ListFillsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(fills)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	path := archivePath("fills", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	count := int64(len(fills))

	if err := a.log.Log(ctx, "system", "archive.fills", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive fills audit log: %w", err)
	}

	return count, nil
}

// ArchiveAudit uploads every audit row created before the cutoff to S3 at
// archive/audit/YYYY-MM.jsonl, then deletes the archived rows. The count
// of archived rows is returned.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit delete: %w", err)
	}

	if err := a.log.Log(ctx, "system", "archive.audit", map[string]any{
		"path":    path,
		"count":   int64(len(entries)),
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit log: %w", err)
	}

	return int64(len(entries)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/fills/2025-01.jsonl
//	archive/audit/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
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

var _ domain.Archiver = (*ArchiveImpl)(nil)
