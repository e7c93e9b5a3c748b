package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aklo360/cc-sub001/internal/domain"
	"github.com/aklo360/cc-sub001/internal/fairness"
)

const archiveContentType = "application/x-ndjson"

// ResolvedLister is the query the archiver needs from the commitment ledger.
type ResolvedLister interface {
	ListResolvedBetween(ctx context.Context, from, to time.Time) ([]domain.Commitment, error)
}

// ArchiveRecord is one line of a daily archive file.
type ArchiveRecord struct {
	Commitment   domain.Commitment `json:"commitment"`
	Verification fairness.Bundle   `json:"verification"`
}

// ArchiveReport summarizes one archive pass.
type ArchiveReport struct {
	Files   []string `json:"files"`
	Records int      `json:"records"`
	Skipped int      `json:"skipped"`
}

// Archiver uploads resolved commitments, one JSONL file per UTC day, so
// anyone can re-verify outcomes after the database has moved on. Existing
// files are never overwritten.
type Archiver struct {
	writer      domain.BlobWriter
	commitments ResolvedLister
	audit       domain.AuditStore
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, commitments ResolvedLister, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, commitments: commitments, audit: audit}
}

// ArchiveBefore archives each of the lookback days preceding the UTC day of
// cutoff that has resolved commitments and no archive file yet.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time, lookback int) (ArchiveReport, error) {
	var report ArchiveReport
	end := domain.UTCDay(cutoff)
	for i := lookback; i >= 1; i-- {
		day := end.AddDate(0, 0, -i)
		n, path, err := a.ArchiveDay(ctx, day)
		if err != nil {
			return report, err
		}
		if path == "" {
			report.Skipped++
			continue
		}
		report.Files = append(report.Files, path)
		report.Records += n
	}
	return report, nil
}

// ArchiveDay uploads the commitments resolved on day. It returns an empty
// path when the day was already archived or had nothing to archive.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int, string, error) {
	start := domain.UTCDay(day)
	path := ArchivePath(start)

	exists, err := a.writer.Exists(ctx, path)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive %s: %w", path, err)
	}
	if exists {
		return 0, "", nil
	}

	cs, err := a.commitments.ListResolvedBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(cs) == 0 {
		return 0, "", nil
	}

	records := make([]ArchiveRecord, len(cs))
	for i, c := range cs {
		records[i] = ArchiveRecord{Commitment: c, Verification: fairness.NewBundle(c)}
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: archive marshal: %w", err)
	}
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), archiveContentType); err != nil {
		return 0, "", fmt.Errorf("s3blob: archive upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, domain.EventArchive, map[string]any{
			"path":  path,
			"count": len(records),
			"day":   start.Format(time.DateOnly),
		}); err != nil {
			return len(records), path, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return len(records), path, nil
}

// ReadArchive downloads and decodes the archive file for day.
func ReadArchive(ctx context.Context, r domain.BlobReader, day time.Time) ([]ArchiveRecord, error) {
	body, err := r.Get(ctx, ArchivePath(day))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var out []ArchiveRecord
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec ArchiveRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("s3blob: archive line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: read archive: %w", err)
	}
	return out, nil
}

// ArchivePath is the object key for one day's archive:
//
//	archive/commitments/2026-03-14.jsonl
func ArchivePath(day time.Time) string {
	return fmt.Sprintf("archive/commitments/%s.jsonl", domain.UTCDay(day).Format(time.DateOnly))
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
