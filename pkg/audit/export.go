package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Export renders entries in the requested format; unknown formats fall back to JSON
func Export(entries []Entry, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportFormatCSV:
		return exportCSV(entries)
	case ExportFormatNDJSON:
		var buf bytes.Buffer
		if err := WriteNDJSON(&buf, entries); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return exportJSON(entries)
	}
}

// ContentType returns the MIME type of an export format
func (f ExportFormat) ContentType() string {
	switch f {
	case ExportFormatCSV:
		return "text/csv"
	case ExportFormatNDJSON:
		return "application/x-ndjson"
	default:
		return "application/json"
	}
}

// exportJSON exports audit entries as a JSON array
func exportJSON(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}

// WriteNDJSON streams entries as newline-delimited JSON
func WriteNDJSON(w io.Writer, entries []Entry) error {
	encoder := json.NewEncoder(w)
	for i := range entries {
		if err := encoder.Encode(&entries[i]); err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}
	return nil
}

// exportCSV exports audit entries as CSV
func exportCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{
		"ID",
		"CreatedAt",
		"TableName",
		"RecordID",
		"Action",
		"ActorID",
		"OldData",
		"NewData",
	}

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, e := range entries {
		row := []string{
			e.ID.String(),
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			e.TableName,
			e.RecordID.String(),
			string(e.Action),
			e.ActorID.String(),
			string(e.OldData),
			string(e.NewData),
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}
