package dashboard

import (
	"encoding/json"
	"errors"
	"io/fs"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/bdrman/bdrman/pkg/gateway"
	"github.com/bdrman/bdrman/pkg/logger"
	"github.com/bdrman/bdrman/pkg/ops"
)

const (
	defaultLogLines   = 50
	maxLogLines       = 500
	defaultHistoryLen = 50
	maxHistoryLen     = 500
)

// resultResponse is the JSON shape of every command the dashboard runs.
type resultResponse struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	TimedOut bool   `json:"timed_out"`
}

func toResponse(res gateway.Result) resultResponse {
	return resultResponse{
		Success:  res.OK(),
		Output:   res.Output,
		TimedOut: res.TimedOut,
	}
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ops.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"server":  s.serverName,
		"stats":   stats,
		"uptime":  ops.FormatUptime(stats.Uptime),
		"summary": ops.FormatStatus(s.serverName, stats),
	})
}

func (s *Server) containersHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.ops.Containers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []ops.Container{}
	}
	writeJSON(w, list)
}

func (s *Server) dockerActionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.ops.ContainerAction(r.Context(), vars["action"], vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toResponse(res))
}

func (s *Server) servicesHandler(w http.ResponseWriter, r *http.Request) {
	list, err := s.ops.Services(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []ops.Service{}
	}
	writeJSON(w, list)
}

func (s *Server) serviceActionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	res, err := s.ops.ServiceAction(r.Context(), vars["action"], vars["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, toResponse(res))
}

func (s *Server) firewallHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, toResponse(s.ops.Firewall(r.Context())))
}

func (s *Server) backupsHandler(w http.ResponseWriter, _ *http.Request) {
	list, err := s.ops.Backups()
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []ops.Backup{}
	}
	writeJSON(w, list)
}

func (s *Server) createBackupHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, toResponse(s.ops.CreateBackup(r.Context())))
}

func (s *Server) downloadBackupHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["file"]
	path, err := s.ops.BackupPath(name)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, path)
}

func (s *Server) logsHandler(w http.ResponseWriter, r *http.Request) {
	lines, ok := intParam(r, "lines", defaultLogLines, maxLogLines)
	if !ok {
		jsonError(w, "lines must be a positive integer", http.StatusBadRequest)
		return
	}
	writeJSON(w, toResponse(s.ops.LogTail(r.Context(), lines)))
}

type commandRequest struct {
	Command string `json:"command"`
}

// commandHandler runs one of ops.AllowedCommands. Anything else is refused
// before reaching the gateway.
func (s *Server) commandHandler(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			jsonError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		req.Command = r.FormValue("command")
	}

	res, err := s.ops.RunAllowed(r.Context(), strings.TrimSpace(req.Command))
	if err != nil {
		logger.WarnCF("dashboard", "Rejected dashboard command", map[string]any{
			"command": req.Command,
			"remote":  remoteIP(r),
		})
		writeError(w, err)
		return
	}
	writeJSON(w, toResponse(res))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		jsonError(w, "audit trail disabled", http.StatusNotFound)
		return
	}
	limit, ok := intParam(r, "limit", defaultHistoryLen, maxHistoryLen)
	if !ok {
		jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
		return
	}
	events, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, events)
}

func intParam(r *http.Request, key string, def, upper int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return min(n, upper), true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrInvalidArgument), errors.Is(err, gateway.ErrValidationRejected):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ops.ErrNotAllowed):
		jsonError(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, fs.ErrNotExist):
		jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, gateway.ErrTimeout):
		jsonError(w, "command timed out", http.StatusGatewayTimeout)
	default:
		logger.ErrorCF("dashboard", "Request failed", map[string]any{"error": err.Error()})
		jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
