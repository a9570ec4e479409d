package statusapi

import (
	"net/http"
	"strconv"

	"hotlib/internal/logging"
)

type logsResponse struct {
	Entries []logging.LogEntry `json:"entries"`
}

func (a *api) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	level, ok := parseLevelParam(query.Get("level"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "unknown log level", Code: "bad_request"})
		return
	}
	limit := defaultLogLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "limit must be a positive integer", Code: "bad_request"})
			return
		}
		limit = parsed
	}

	key := ""
	pkg := query.Get("package")
	if pkg != "" {
		key = logging.FieldPackage
	}
	entries := a.logs.Buffer().Matching(key, pkg, level)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	writeJSON(w, http.StatusOK, logsResponse{Entries: entries})
}

func (a *api) handleLogStream(w http.ResponseWriter, r *http.Request) {
	level, ok := parseLevelParam(r.URL.Query().Get("level"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "unknown log level", Code: "bad_request"})
		return
	}
	output, cancel := a.logs.Subscribe(level)
	defer cancel()
	serveWSStream(w, r, wsStreamConfig[logging.LogEntry]{
		AllowedOrigins: a.origins,
		Output:         output,
		Logger:         a.logger,
	})
}

// parseLevelParam accepts an empty value as "every level".
func parseLevelParam(raw string) (logging.Level, bool) {
	if raw == "" {
		return "", true
	}
	return logging.ParseLevel(raw)
}
