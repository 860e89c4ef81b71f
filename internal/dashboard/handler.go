package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/apprise/tracksync/internal/schema"
	tsync "github.com/apprise/tracksync/internal/sync"
)

// PassCompleteData is the payload of a pass_complete message.
type PassCompleteData struct {
	PassID     string                `json:"pass_id"`
	Success    bool                  `json:"success"`
	Reason     string                `json:"reason,omitempty"`
	Error      string                `json:"error,omitempty"`
	DurationMS int64                 `json:"duration_ms"`
	Kinds      map[string]KindCounts `json:"kinds"`
}

// KindCounts summarizes one kind's reconciliation.
type KindCounts struct {
	Pushed    int  `json:"pushed"`
	Failed    int  `json:"failed"`
	Applied   int  `json:"applied"`
	Removed   int  `json:"removed"`
	Conflicts int  `json:"conflicts"`
	Completed bool `json:"completed"`
}

// RecordUpdateData is the payload of a record_update message.
type RecordUpdateData struct {
	Kind     string `json:"kind"`
	LocalID  int64  `json:"local_id"`
	RemoteID int64  `json:"remote_id,omitempty"`
	Label    string `json:"label,omitempty"`
	Dirty    bool   `json:"dirty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// StatsData is the payload of a stats message.
type StatsData struct {
	Dirty map[string]int `json:"dirty"`
	Total map[string]int `json:"total"`
}

// Counter reports record counts. *store.DB implements Counter.
type Counter interface {
	CountDirty(ctx context.Context, kind schema.Kind) (int, error)
	Count(ctx context.Context, kind schema.Kind) (int, error)
}

// Source publishes pass results. *sync.Coordinator implements Source.
type Source interface {
	Subscribe(buffer int) (<-chan tsync.PassResult, func())
}

// Handler turns pass results into dashboard messages.
type Handler struct {
	server  *Server
	counter Counter
	logger  *log.Logger
}

// NewHandler creates a handler broadcasting through server. counter may be
// nil, in which case no stats are sent.
func NewHandler(server *Server, counter Counter, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, counter: counter, logger: logger}
}

// Run consumes pass results from src until ctx is cancelled.
func (h *Handler) Run(ctx context.Context, src Source) {
	events, cancel := src.Subscribe(16)
	defer cancel()

	h.SendStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-events:
			if !ok {
				return
			}
			h.OnPassComplete(ctx, result)
		}
	}
}

// OnPassComplete broadcasts a pass_complete message, a record_update per
// changed record and fresh stats.
func (h *Handler) OnPassComplete(ctx context.Context, result tsync.PassResult) {
	data := PassCompleteData{
		PassID:     result.ID,
		Success:    result.Success,
		Reason:     string(result.Reason),
		DurationMS: result.Duration.Milliseconds(),
		Kinds:      make(map[string]KindCounts, len(result.Outcomes)),
	}
	if result.Err != nil {
		data.Error = result.Err.Error()
	}
	for _, out := range result.Outcomes {
		data.Kinds[string(out.Kind)] = KindCounts{
			Pushed:    len(out.Succeeded),
			Failed:    len(out.Failed),
			Applied:   out.Applied,
			Removed:   out.Removed,
			Conflicts: out.Conflicts,
			Completed: out.Completed,
		}
	}
	h.send(MessageTypePassComplete, data)

	for _, rec := range result.Changed {
		h.send(MessageTypeRecordUpdate, RecordUpdateData{
			Kind:     string(rec.Kind),
			LocalID:  rec.LocalID,
			RemoteID: rec.RemoteID,
			Label:    label(rec),
			Dirty:    rec.Dirty,
			Deleted:  rec.Deleted,
		})
	}

	h.SendStats(ctx)
}

// SendStats broadcasts current dirty and total counts per kind.
func (h *Handler) SendStats(ctx context.Context) {
	if h.counter == nil {
		return
	}
	stats := StatsData{
		Dirty: make(map[string]int),
		Total: make(map[string]int),
	}
	for _, kind := range schema.Kinds() {
		dirty, err := h.counter.CountDirty(ctx, kind)
		if err != nil {
			h.logger.Printf("Failed to count dirty %s: %v", kind.Plural(), err)
			return
		}
		total, err := h.counter.Count(ctx, kind)
		if err != nil {
			h.logger.Printf("Failed to count %s: %v", kind.Plural(), err)
			return
		}
		stats.Dirty[string(kind)] = dirty
		stats.Total[string(kind)] = total
	}
	h.send(MessageTypeStats, stats)
}

func (h *Handler) send(typ MessageType, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

func label(rec *schema.Record) string {
	switch rec.Kind {
	case schema.KindProject:
		return rec.ClientProjectName
	case schema.KindTask:
		if rec.Description != nil {
			return *rec.Description
		}
		return ""
	}
	return rec.Name
}
