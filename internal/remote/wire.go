package remote

import (
	"time"

	"github.com/apprise/tracksync/internal/schema"
)

// WireRecord is the JSON representation of a record on the remote API.
// Only remote ids cross the wire.
type WireRecord struct {
	ID      int64  `json:"id,omitempty"`
	GUID    string `json:"guid,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`

	Name              string `json:"name,omitempty"`
	TaskRetentionDays int    `json:"task_retention_days,omitempty"`

	ClientID int64 `json:"client_id,omitempty"`

	Description *string    `json:"description,omitempty"`
	Duration    int64      `json:"duration,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	ProjectID   int64      `json:"project_id,omitempty"`
}

// ListResponse is the body of GET /api/v1/{kind}s?since=<mark>.
type ListResponse struct {
	Data  []WireRecord `json:"data"`
	Since int64        `json:"since"`
}

// ItemResponse is the body returned by create and update.
type ItemResponse struct {
	Data WireRecord `json:"data"`
}

// ErrorResponse is the body of a failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromRecord converts a record to its wire form.
func FromRecord(rec *schema.Record) WireRecord {
	w := WireRecord{
		ID:      rec.RemoteID,
		GUID:    rec.GUID,
		Deleted: rec.Deleted,
	}
	switch rec.Kind {
	case schema.KindUser:
		w.Name = rec.Name
		w.TaskRetentionDays = rec.RetentionDays
	case schema.KindClient:
		w.Name = rec.Name
	case schema.KindProject:
		w.Name = rec.Name
		w.ClientID = rec.ClientRemoteID
	case schema.KindTask:
		w.Description = rec.Description
		w.Duration = rec.Duration
		w.ProjectID = rec.ProjectRemoteID
		if !rec.Start.IsZero() {
			start := rec.Start.UTC()
			w.Start = &start
		}
	}
	return w
}

// ToRecord converts a wire record of the given kind to a record carrying
// remote ids only.
func (w WireRecord) ToRecord(kind schema.Kind) *schema.Record {
	rec := &schema.Record{
		Kind:     kind,
		RemoteID: w.ID,
		GUID:     w.GUID,
		Deleted:  w.Deleted,
	}
	switch kind {
	case schema.KindUser:
		rec.Name = w.Name
		rec.RetentionDays = w.TaskRetentionDays
	case schema.KindClient:
		rec.Name = w.Name
	case schema.KindProject:
		rec.Name = w.Name
		rec.ClientRemoteID = w.ClientID
	case schema.KindTask:
		rec.Description = w.Description
		rec.Duration = w.Duration
		rec.ProjectRemoteID = w.ProjectID
		if w.Start != nil {
			rec.Start = w.Start.UTC()
		}
	}
	return rec
}
