package remotetest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/apprise/tracksync/internal/remote"
	"github.com/apprise/tracksync/internal/schema"
	"github.com/apprise/tracksync/internal/sync"
)

// Handler serves a Server over the remote HTTP API, for tests of the HTTP
// gateway. Requests must carry "Authorization: Bearer <token>" unless token
// is empty. Injected failures become error responses: unreachable as 503,
// rejected with their status (422 when unset).
func Handler(s *Server, token string) http.Handler {
	h := &handler{server: s, token: token}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/{kind}", h.handleList)
	mux.HandleFunc("POST /api/v1/{kind}", h.handleCreate)
	mux.HandleFunc("PUT /api/v1/{kind}/{id}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/{kind}/{id}", h.handleDelete)
	return h.auth(mux)
}

type handler struct {
	server *Server
	token  string
}

func (h *handler) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) handleList(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		since = 0
	}

	cs, err := h.server.FetchChanges(r.Context(), kind, since)
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	resp := remote.ListResponse{Data: []remote.WireRecord{}, Since: cs.Mark}
	for _, rec := range cs.Records {
		resp.Data = append(resp.Data, remote.FromRecord(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	rec, ok := decodeRecord(w, r, kind)
	if !ok {
		return
	}

	created, err := h.server.Create(r.Context(), rec)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, remote.ItemResponse{Data: remote.FromRecord(created)})
}

func (h *handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	rec, ok := decodeRecord(w, r, kind)
	if !ok {
		return
	}
	rec.RemoteID = id

	updated, err := h.server.Update(r.Context(), rec)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, remote.ItemResponse{Data: remote.FromRecord(updated)})
}

func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, ok := pathKind(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.server.Delete(r.Context(), kind, id); err != nil {
		writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathKind(w http.ResponseWriter, r *http.Request) (schema.Kind, bool) {
	kind, err := schema.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}

func decodeRecord(w http.ResponseWriter, r *http.Request, kind schema.Kind) (*schema.Record, bool) {
	var wr remote.WireRecord
	if err := json.NewDecoder(r.Body).Decode(&wr); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return nil, false
	}
	return wr.ToRecord(kind), true
}

func writeGatewayError(w http.ResponseWriter, err error) {
	var gwErr *sync.GatewayError
	if !errors.As(err, &gwErr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := gwErr.Status
	switch {
	case gwErr.Kind == sync.FailureUnreachable && status == 0:
		status = http.StatusServiceUnavailable
	case status == 0:
		status = http.StatusUnprocessableEntity
	}
	writeError(w, status, gwErr.Reason)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, remote.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
