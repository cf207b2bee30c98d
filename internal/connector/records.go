package connector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/crmlake/crmlake/internal/loader"
	"github.com/crmlake/crmlake/internal/storage"
)

// DecodeRecords parses one newline-delimited JSON data file. Blank lines
// are skipped.
func DecodeRecords(data []byte) ([]loader.Record, error) {
	var records []loader.Record

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec loader.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decoding record on line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning records: %w", err)
	}
	return records, nil
}

// FetchRecords reads and decodes all of an extraction's data files from the
// object store, fetching concurrently but returning records in the data
// files' path order so loads are deterministic.
func FetchRecords(ctx context.Context, fetcher *storage.BatchFetcher, extraction *Extraction) ([]loader.Record, error) {
	result, err := fetcher.Fetch(ctx, extraction.ObjectPaths)
	if err != nil {
		return nil, err
	}
	if len(result.Errors) > 0 {
		paths := make([]string, 0, len(result.Errors))
		for p := range result.Errors {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		return nil, fmt.Errorf("fetching data file %s: %w", paths[0], result.Errors[paths[0]])
	}

	var records []loader.Record
	for _, path := range extraction.ObjectPaths {
		decoded, err := DecodeRecords(result.Contents[path])
		if err != nil {
			return nil, fmt.Errorf("data file %s: %w", path, err)
		}
		records = append(records, decoded...)
	}
	return records, nil
}
