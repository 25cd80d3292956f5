package audit

import (
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []Entry {
	now := time.Now().UTC()
	rec := uuid.New()
	actor := uuid.New()
	return []Entry{
		{ID: uuid.New(), TableName: "time_entries", RecordID: rec, Action: ActionInsert, NewData: json.RawMessage(`{"minutes":60}`), ActorID: actor, CreatedAt: now},
		{ID: uuid.New(), TableName: "time_entries", RecordID: rec, Action: ActionDelete, OldData: json.RawMessage(`{"minutes":60}`), ActorID: actor, CreatedAt: now.Add(time.Minute)},
	}
}

func TestExportJSON(t *testing.T) {
	data, err := Export(sampleEntries(), ExportFormatJSON)
	require.NoError(t, err)

	var parsed []Entry
	require.NoError(t, json.Unmarshal(data, &parsed))
	require.Len(t, parsed, 2)
	assert.Equal(t, ActionDelete, parsed[1].Action)

	empty, err := Export(nil, ExportFormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))
}

func TestExportNDJSON(t *testing.T) {
	entries := sampleEntries()
	data, err := Export(entries, ExportFormatNDJSON)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	for i, line := range lines {
		e, err := FromJSON([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, entries[i].ID, e.ID)
	}
	assert.Contains(t, lines[1], `"new_data":null`)
}

func TestExportCSV(t *testing.T) {
	data, err := Export(sampleEntries(), ExportFormatCSV)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "TableName", records[0][2])
	assert.Equal(t, "INSERT", records[1][4])
	assert.Equal(t, `{"minutes":60}`, records[1][7])
	assert.Equal(t, "", records[2][7])
}

func TestExportFormatContentType(t *testing.T) {
	assert.Equal(t, "text/csv", ExportFormatCSV.ContentType())
	assert.Equal(t, "application/x-ndjson", ExportFormatNDJSON.ContentType())
	assert.Equal(t, "application/json", ExportFormat("xml").ContentType())
}
