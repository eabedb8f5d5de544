package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// EventArchiveStore is the slice of the event outbox the archiver needs.
type EventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error)
	DeleteArchived(ctx context.Context, ids []string) (int64, error)
}

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// EventArchiver implements domain.Archiver. It copies relayed events older
// than the cutoff to one JSONL object, then prunes them from the outbox.
// Events still waiting for the relay, and anything after them, are left in
// place.
type EventArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events EventArchiveStore
	audit  domain.AuditStore
	batch  int
}

// NewEventArchiver creates an EventArchiver. reader may be nil, in which
// case an existing object for the same day is overwritten.
func NewEventArchiver(writer domain.BlobWriter, reader domain.BlobReader, events EventArchiveStore, audit domain.AuditStore) *EventArchiver {
	return &EventArchiver{
		writer: writer,
		reader: reader,
		events: events,
		audit:  audit,
		batch:  50_000,
	}
}

// ArchiveEvents uploads events before the cutoff to
// archive/events/YYYY-MM-DD.jsonl and returns how many were written.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	all, err := a.events.ListBefore(ctx, before, a.batch)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	// The page is ordered by timestamp. The cutoff stops at the oldest
	// event the relay has not published yet.
	cutoff := before
	if len(all) == a.batch {
		// Truncated page: events sharing the last timestamp may continue
		// past it, so they wait for the next run.
		cutoff = all[len(all)-1].Timestamp
	}
	for _, ev := range all {
		if !ev.Published && ev.Timestamp.Before(cutoff) {
			cutoff = ev.Timestamp
		}
	}
	events := make([]domain.Event, 0, len(all))
	ids := make([]string, 0, len(all))
	for _, ev := range all {
		if ev.Timestamp.Before(cutoff) {
			events = append(events, ev)
			ids = append(ids, ev.ID)
		}
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path, err := a.pathFor(ctx, cutoff, events[0].Seq)
	if err != nil {
		return 0, err
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(events))
	pruned, err := a.events.DeleteArchived(ctx, ids)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive events prune: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.events", map[string]any{
			"path":   path,
			"count":  count,
			"pruned": pruned,
			"before": cutoff.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive events audit log: %w", err)
		}
	}
	return count, nil
}

// ReadArchived returns the archived events of one UTC day, optionally
// narrowed to a market, ordered by (timestamp, seq). Every object written
// for that day is read, including seq-suffixed ones.
func (a *EventArchiver) ReadArchived(ctx context.Context, day time.Time, marketID string) ([]domain.Event, error) {
	if a.reader == nil {
		return nil, fmt.Errorf("s3blob: archive read: %w", domain.ErrArchiveDisabled)
	}
	prefix := strings.TrimSuffix(archivePath("events", day), ".jsonl")
	objects, err := a.reader.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive list %s: %w", prefix, err)
	}

	var out []domain.Event
	for _, obj := range objects {
		events, err := a.readObject(ctx, obj.Path, marketID)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (a *EventArchiver) readObject(ctx context.Context, path, marketID string) ([]domain.Event, error) {
	body, err := a.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("s3blob: archive read %s: %w", path, err)
	}
	defer body.Close()

	var out []domain.Event
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var ev domain.Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("s3blob: archive decode %s line %d: %w", path, line, err)
		}
		if marketID == "" || ev.MarketID == marketID {
			out = append(out, ev)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("s3blob: archive scan %s: %w", path, err)
	}
	return out, nil
}

// pathFor returns the day's object key, or a seq-suffixed key when the
// day's object already exists.
func (a *EventArchiver) pathFor(ctx context.Context, before time.Time, firstSeq int64) (string, error) {
	path := archivePath("events", before)
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive events check %s: %w", path, err)
	}
	if !exists {
		return path, nil
	}
	return fmt.Sprintf("archive/events/%s-%d.jsonl", before.UTC().Format("2006-01-02"), firstSeq), nil
}

// archivePath builds the key for an archive file, partitioned by the UTC
// day of the cutoff.
//
//	archive/events/2026-01-31.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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

var (
	_ domain.Archiver      = (*EventArchiver)(nil)
	_ domain.ArchiveReader = (*EventArchiver)(nil)
)
