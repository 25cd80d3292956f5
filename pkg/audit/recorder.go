package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// ErrWriteFailed wraps every failure to persist an entry
var ErrWriteFailed = errors.New("audit write failed")

// Writer persists entries inside the caller's transaction
type Writer interface {
	AppendAudit(ctx context.Context, entry *Entry) error
}

// Recorder builds audit entries and writes them through a transactional Writer.
// It never retries or buffers: a failed write must abort the caller's transaction.
type Recorder struct {
	now   func() time.Time
	newID func() uuid.UUID
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithClock overrides the entry timestamp source
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		r.now = now
	}
}

// NewRecorder creates a recorder
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecordMutation documents one mutation.
//
// INSERT takes only newRow, DELETE only oldRow, UPDATE both, always as full
// rows rather than diffs. A soft delete is recorded as DELETE by the caller.
func (r *Recorder) RecordMutation(ctx context.Context, w Writer, table string, recordID uuid.UUID, action Action, oldRow, newRow interface{}, actorID uuid.UUID) (*Entry, error) {
	if table == "" || recordID == uuid.Nil {
		return nil, fmt.Errorf("%w: table and record id are required", ErrWriteFailed)
	}

	hasOld, hasNew := !isNil(oldRow), !isNil(newRow)
	switch action {
	case ActionInsert:
		if hasOld || !hasNew {
			return nil, fmt.Errorf("%w: INSERT requires only new data", ErrWriteFailed)
		}
	case ActionUpdate:
		if !hasOld || !hasNew {
			return nil, fmt.Errorf("%w: UPDATE requires old and new data", ErrWriteFailed)
		}
	case ActionDelete:
		if !hasOld || hasNew {
			return nil, fmt.Errorf("%w: DELETE requires only old data", ErrWriteFailed)
		}
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrWriteFailed, action)
	}

	entry := &Entry{
		ID:        r.newID(),
		TableName: table,
		RecordID:  recordID,
		Action:    action,
		ActorID:   actorID,
		CreatedAt: r.now().UTC().Truncate(time.Microsecond),
	}

	var err error
	if hasOld {
		if entry.OldData, err = marshalRow(oldRow); err != nil {
			return nil, err
		}
	}
	if hasNew {
		if entry.NewData, err = marshalRow(newRow); err != nil {
			return nil, err
		}
	}

	if err := w.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return entry, nil
}

func marshalRow(row interface{}) (json.RawMessage, error) {
	if raw, ok := row.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal row: %v", ErrWriteFailed, err)
	}
	return data, nil
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
