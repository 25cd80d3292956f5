package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action is the kind of mutation an entry documents
type Action string

const (
	ActionInsert Action = "INSERT"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entry is one immutable audit log row
type Entry struct {
	ID        uuid.UUID       `json:"id"`
	TableName string          `json:"table_name"`
	RecordID  uuid.UUID       `json:"record_id"`
	Action    Action          `json:"action"`
	OldData   json.RawMessage `json:"old_data"`
	NewData   json.RawMessage `json:"new_data"`
	ActorID   uuid.UUID       `json:"actor_id"`
	CreatedAt time.Time       `json:"created_at"`
}

// ToJSON serializes the entry
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON deserializes an entry
func FromJSON(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// SearchFilter narrows an audit log query. Zero values mean "any".
type SearchFilter struct {
	TableName string
	RecordID  *uuid.UUID
	ActorID   *uuid.UUID
	Actions   []Action
	StartTime *time.Time
	EndTime   *time.Time

	// SortOrder is "asc" or "desc" on created_at; desc is the default
	SortOrder string
	Limit     int
	Offset    int
}

// Matches reports whether e satisfies every condition of the filter except paging
func (f SearchFilter) Matches(e *Entry) bool {
	if f.TableName != "" && e.TableName != f.TableName {
		return false
	}
	if f.RecordID != nil && e.RecordID != *f.RecordID {
		return false
	}
	if f.ActorID != nil && e.ActorID != *f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.StartTime != nil && e.CreatedAt.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.CreatedAt.After(*f.EndTime) {
		return false
	}
	return true
}

// Searcher reads audit entries
type Searcher interface {
	SearchAudit(ctx context.Context, filter SearchFilter) ([]Entry, error)
}

// ExportFormat represents the format for exporting audit entries
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
