package audit

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantrbac/pkg/httputil"
)

const defaultPageSize = 100

// Handlers provides HTTP handlers for audit log API
type Handlers struct {
	reader Reader
}

// NewHandlers creates new audit handlers
func NewHandlers(reader Reader) *Handlers {
	return &Handlers{reader: reader}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/events/{id}", h.getEvent).Methods(http.MethodGet)
	router.HandleFunc("/audit/export", h.exportEvents).Methods(http.MethodGet)
	router.HandleFunc("/audit/stats", h.getStats).Methods(http.MethodGet)
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, defaultPageSize)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	events, err := h.reader.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /audit/events/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	event, found := h.reader.Get(r.Context(), id)
	if !found {
		httputil.WriteNotFoundError(w, fmt.Sprintf("audit event %d not found", id))
		return
	}
	httputil.WriteSuccess(w, event)
}

// exportEvents handles GET /audit/export?format=json|csv|ndjson
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	format := ExportFormat(httputil.ParseQueryString(r, "format", string(ExportFormatJSON)))

	events, err := h.reader.Query(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	data, err := Export(events, format)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filename := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102-150405"), format)
	w.Header().Set("Content-Type", ContentType(format))
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r, 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	stats, err := h.reader.Stats(r.Context(), filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, stats)
}

// parseFilter reads tenant_id, user_id, action, succeeded, severity,
// resource, ip, from, to (RFC 3339), limit and offset.
func parseFilter(r *http.Request, defaultLimit int) (Filter, error) {
	q := r.URL.Query()
	f := Filter{
		TenantID:     q.Get("tenant_id"),
		UserID:       q.Get("user_id"),
		Action:       q.Get("action"),
		Severity:     Severity(q.Get("severity")),
		ResourceCode: q.Get("resource"),
		SourceIP:     q.Get("ip"),
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return f, fmt.Errorf("invalid severity %q", f.Severity)
	}
	if v := q.Get("succeeded"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("invalid succeeded %q", v)
		}
		f.Succeeded = &b
	}
	for key, dst := range map[string]*time.Time{"from": &f.From, "to": &f.To} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, fmt.Errorf("invalid %s time %q", key, v)
			}
			*dst = t
		}
	}
	var err error
	if f.Limit, err = httputil.ParseQueryInt(r, "limit", defaultLimit); err != nil || f.Limit < 0 {
		return f, fmt.Errorf("invalid limit")
	}
	if f.Offset, err = httputil.ParseQueryInt(r, "offset", 0); err != nil || f.Offset < 0 {
		return f, fmt.Errorf("invalid offset")
	}
	return f, nil
}
