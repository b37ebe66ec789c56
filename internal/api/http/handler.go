package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/veranemoloko/download-orchestrator/internal/domain"
	errpkg "github.com/veranemoloko/download-orchestrator/internal/errors"
)

// DownloadServiceI defines the download commands and queries served over HTTP.
type DownloadServiceI interface {
	CreateDownloadTasks(ctx context.Context, req domain.CreateDownloadTasksRequest) ([]*domain.DownloadTaskResponse, error)
	GetDownloadTasks(ctx context.Context) ([]*domain.DownloadTaskResponse, error)
	GetDownloadTask(ctx context.Context, id int) (*domain.DownloadTaskResponse, error)

	Start(ctx context.Context, ids []int) (*domain.CommandResult, error)
	Pause(ctx context.Context, ids []int) (*domain.CommandResult, error)
	Stop(ctx context.Context, ids []int) (*domain.CommandResult, error)
	Restart(ctx context.Context, ids []int) (*domain.CommandResult, error)
	Delete(ctx context.Context, ids []int) (*domain.CommandResult, error)
	ClearCompleted(ctx context.Context, ids []int) (*domain.CommandResult, error)
}

// ServerServiceI starts server probes.
type ServerServiceI interface {
	InspectServer(ctx context.Context, serverID int) error
	RefreshAccount(ctx context.Context, accountID int, serverIDs []int) error
}

type refreshAccountRequest struct {
	ServerIDs []int `json:"server_ids"`
}

type commandFunc func(ctx context.Context, ids []int) (*domain.CommandResult, error)

// DownloadHandler handles HTTP requests for download tasks.
type DownloadHandler struct {
	downloads DownloadServiceI
	servers   ServerServiceI
	logger    *slog.Logger
}

// NewDownloadHandler creates a new DownloadHandler with the provided services and logger.
func NewDownloadHandler(downloads DownloadServiceI, servers ServerServiceI, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		downloads: downloads,
		servers:   servers,
		logger:    logger,
	}
}

// commandResponse is the body of every bulk command endpoint.
type commandResponse struct {
	Success bool `json:"success"`
	*domain.CommandResult
}

// CreateDownloads handles POST /downloads.
func (h *DownloadHandler) CreateDownloads(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateDownloadTasksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tasks, err := h.downloads.CreateDownloadTasks(r.Context(), req)
	if err != nil {
		h.logger.Warn("failed to create download tasks", "error", err)
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tasks)
}

// ListDownloads handles GET /downloads.
func (h *DownloadHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.downloads.GetDownloadTasks(r.Context())
	if err != nil {
		h.logger.Error("failed to list download tasks", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// GetDownload handles GET /downloads/{taskID}.
func (h *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}

	task, err := h.downloads.GetDownloadTask(r.Context(), id)
	if err != nil {
		h.logger.Warn("failed to get download task", "task_id", id, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *DownloadHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "start", h.downloads.Start)
}

func (h *DownloadHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "pause", h.downloads.Pause)
}

func (h *DownloadHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "stop", h.downloads.Stop)
}

func (h *DownloadHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "restart", h.downloads.Restart)
}

func (h *DownloadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "delete", h.downloads.Delete)
}

func (h *DownloadHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	h.runCommand(w, r, "clear", h.downloads.ClearCompleted)
}

// runCommand decodes {"ids": [...]} and reports the per-id outcome. Ids are
// validated by the service so that invalid input never has side effects.
func (h *DownloadHandler) runCommand(w http.ResponseWriter, r *http.Request, name string, cmd commandFunc) {
	var req domain.TaskIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "command", name, "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := cmd(r.Context(), req.IDs)
	if result == nil {
		result = &domain.CommandResult{}
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		h.logger.Warn("command failed", "command", name, "error", err)
	}
	writeJSON(w, status, commandResponse{Success: err == nil, CommandResult: result})
}

// InspectServer handles POST /servers/{serverID}/inspect.
func (h *DownloadHandler) InspectServer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "serverID")
	if !ok {
		return
	}

	if err := h.servers.InspectServer(r.Context(), id); err != nil {
		h.logger.Warn("failed to start server inspection", "server_id", id, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"server_id": id,
	})
}

// RefreshAccount handles POST /accounts/{accountID}/refresh.
func (h *DownloadHandler) RefreshAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "accountID")
	if !ok {
		return
	}

	var req refreshAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.servers.RefreshAccount(r.Context(), id, req.ServerIDs); err != nil {
		h.logger.Warn("failed to start account refresh", "account_id", id, "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"account_id": id,
		"server_ids": req.ServerIDs,
	})
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, param))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func statusFor(err error) int {
	switch errpkg.KindOf(err) {
	case errpkg.KindValidation:
		return http.StatusBadRequest
	case errpkg.KindNotFound:
		return http.StatusNotFound
	case errpkg.KindJobScheduling:
		return http.StatusConflict
	case errpkg.KindProbeExhausted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := "internal server error"
	if status != http.StatusInternalServerError {
		message = err.Error()
	}
	writeError(w, status, message)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
