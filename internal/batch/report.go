package batch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/sitewatcher/internal/discovery"
	"github.com/JakeFAU/sitewatcher/internal/hash/sha256"
	"github.com/JakeFAU/sitewatcher/internal/id/uuid"
	"github.com/JakeFAU/sitewatcher/internal/storage"
)

// ErrReportNotFound is returned by LoadReport when the batch wrote no
// report under the given prefix.
var ErrReportNotFound = errors.New("batch report not found")

// ReportPath returns the object path of a batch's report.
func ReportPath(prefix, batchID string) string {
	return path.Join(strings.Trim(prefix, "/"), batchID+".ndjson")
}

// EncodeNDJSON writes one JSON object per result.
func EncodeNDJSON(results []discovery.Result) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, res := range results {
		if err := enc.Encode(res); err != nil {
			return nil, fmt.Errorf("encode result %s: %w", res.TaskID, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeNDJSON parses a report written by EncodeNDJSON. Errors carry the
// 1-based line number.
func DecodeNDJSON(data []byte) ([]discovery.Result, error) {
	var results []discovery.Result
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64<<10), 16<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var res discovery.Result
		if err := json.Unmarshal(line, &res); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if res.ContentHash != "" && !sha256.Valid(res.ContentHash) {
			return nil, fmt.Errorf("line %d: malformed content hash %q", lineNo, res.ContentHash)
		}
		results = append(results, res)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan report: %w", err)
	}
	return results, nil
}

// LoadReport reads a batch report back from store. StartedAt comes from
// the time embedded in the batch ID; FinishedAt is the latest task finish.
func LoadReport(ctx context.Context, store discovery.BlobStore, prefix, batchID string) (Report, error) {
	created, err := uuid.CreatedAt(batchID)
	if err != nil {
		return Report{}, fmt.Errorf("invalid batch id: %w", err)
	}
	name := ReportPath(prefix, batchID)
	data, err := store.GetObject(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return Report{}, fmt.Errorf("%w: %s", ErrReportNotFound, name)
	}
	if err != nil {
		return Report{}, fmt.Errorf("read report %s: %w", name, err)
	}
	results, err := DecodeNDJSON(data)
	if err != nil {
		return Report{}, fmt.Errorf("decode report %s: %w", name, err)
	}

	report := Report{BatchID: batchID, StartedAt: created, Results: results}
	for _, res := range results {
		if res.BatchID != batchID {
			return Report{}, fmt.Errorf("report %s holds task %s of batch %s", name, res.TaskID, res.BatchID)
		}
		if res.FinishedAt.After(report.FinishedAt) {
			report.FinishedAt = res.FinishedAt
		}
	}
	report.tally()
	return report, nil
}

// tally recounts the outcome totals from Results.
func (r *Report) tally() {
	r.Succeeded, r.Failed, r.Retryable = 0, 0, 0
	for _, res := range r.Results {
		switch res.Status {
		case discovery.StatusSucceeded:
			r.Succeeded++
		default:
			r.Failed++
			if res.Retryable {
				r.Retryable++
			}
		}
	}
}
