package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/charliek/semrun/internal/constants"
	"github.com/charliek/semrun/internal/domain"
	"github.com/charliek/semrun/internal/logs"
	"github.com/charliek/semrun/internal/supervisor"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	supervisor *supervisor.Supervisor
	logManager *logs.Manager
	jobsDir    string
	configFile string
	shutdownFn func()
	logger     *slog.Logger
}

// HandlersConfig describes the run served by the handlers
type HandlersConfig struct {
	JobsDir    string
	ConfigFile string
	// ShutdownFn is called asynchronously by POST /shutdown
	ShutdownFn func()
	Logger     *slog.Logger
}

// NewHandlers creates new HTTP handlers
func NewHandlers(sup *supervisor.Supervisor, logMgr *logs.Manager, cfg HandlersConfig) *Handlers {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handlers{
		supervisor: sup,
		logManager: logMgr,
		jobsDir:    cfg.JobsDir,
		configFile: cfg.ConfigFile,
		shutdownFn: cfg.ShutdownFn,
		logger:     cfg.Logger,
	}
}

// GetStatus handles GET /api/v1/status
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := ToStatusResponse(h.supervisor.Status())
	resp.PID = os.Getpid()
	resp.JobsDir = h.jobsDir
	resp.ConfigFile = h.configFile

	writeJSON(w, http.StatusOK, resp)
}

// GetJobs handles GET /api/v1/jobs
func (h *Handlers) GetJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.supervisor.Jobs()

	resp := JobListResponse{
		Jobs: make([]JobResponse, len(jobs)),
	}
	for i, info := range jobs {
		resp.Jobs[i] = ToJobResponse(info)
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /api/v1/jobs/{name}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, err := h.supervisor.Job(name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	def, err := h.supervisor.Definition(name)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ToJobDetailResponse(info, def))
}

// CancelJob handles POST /api/v1/jobs/{name}/cancel
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := h.supervisor.Cancel(name); err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// GetGate handles GET /api/v1/gate
func (h *Handlers) GetGate(w http.ResponseWriter, r *http.Request) {
	info, err := h.supervisor.Gate().Info()
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ToGateResponse(info))
}

// GetLogs handles GET /api/v1/logs
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	params := parseLogParams(r)
	filter := logFilter(params)

	entries, total, err := h.logManager.QueryLast(filter, params.Lines)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := LogsResponse{
		Logs:          make([]LogEntryResponse, len(entries)),
		FilteredCount: len(entries),
		TotalCount:    total,
	}
	for i, e := range entries {
		resp.Logs[i] = ToLogEntryResponse(e)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Shutdown handles POST /api/v1/shutdown
func (h *Handlers) Shutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})

	go func() {
		time.Sleep(100 * time.Millisecond) // Let response complete
		if h.shutdownFn != nil {
			h.shutdownFn()
		}
	}()
}

// parseLogParams extracts log parameters from the request query. The job
// parameter accepts a comma separated list.
func parseLogParams(r *http.Request) domain.LogParams {
	q := r.URL.Query()
	params := domain.LogParams{
		Job:     q.Get("job"),
		Pattern: q.Get("pattern"),
		Regex:   q.Get("regex") == "true",
		Lines:   constants.DefaultLogLimit,
	}

	// Lines limit (default 100, max 10000)
	if linesStr := q.Get("lines"); linesStr != "" {
		if l, err := strconv.Atoi(linesStr); err == nil && l > 0 {
			params.Lines = min(l, constants.MaxLogLines)
		}
	}

	return params
}

func logFilter(params domain.LogParams) domain.LogFilter {
	filter := domain.LogFilter{
		Pattern: params.Pattern,
		IsRegex: params.Regex,
	}
	if params.Job != "" {
		filter.Jobs = strings.Split(params.Job, ",")
	}
	return filter
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding json response", "error", err)
	}
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobNotRunning):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidPattern):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrShutdownInProgress):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrGateUnsupported), errors.Is(err, domain.ErrGateClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes an error response. Unknown errors are logged and
// replaced by a generic message so internal paths do not leak.
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("internal error", "error", err)
		message = "an internal error occurred"
	}

	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  domain.ErrorCode(err),
	})
}
