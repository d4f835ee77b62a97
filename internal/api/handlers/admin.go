package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"threatmesh/internal/domain/services"
	"threatmesh/pkg/logger"
)

// AdminHandler exposes operational task controls
type AdminHandler struct {
	scheduler *services.Scheduler
	backup    *services.BackupService
	logger    *logger.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(scheduler *services.Scheduler, backup *services.BackupService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		scheduler: scheduler,
		backup:    backup,
		logger:    log.WithComponent("admin-handler"),
	}
}

// Tasks handles GET /api/admin/tasks
func (h *AdminHandler) Tasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"running": h.scheduler.IsRunning(),
		"tasks":   h.scheduler.TaskStates(),
	})
}

// RunTask handles POST /api/admin/tasks/{task}, invoking one
// scheduled task synchronously.
func (h *AdminHandler) RunTask(w http.ResponseWriter, r *http.Request) {
	task := chi.URLParam(r, "task")

	var result any
	var err error
	switch task {
	case services.TaskCorrelation:
		result, err = h.scheduler.RunCorrelation(r.Context())
	case services.TaskReputation:
		result, err = h.scheduler.RunReputation(r.Context())
	case services.TaskRuleGen:
		result, err = h.scheduler.RunRuleGen(r.Context())
	case services.TaskLifecycle:
		result, err = h.scheduler.RunLifecycle(r.Context())
	case services.TaskFeedSync:
		result, err = h.scheduler.RunFeedSync(r.Context())
	case "backup":
		result = h.backup.Run(r.Context())
	default:
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "unknown task"})
		return
	}
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	h.logger.Info().Str("task", task).Msg("task invoked via admin API")
	respondJSON(w, http.StatusOK, map[string]any{"task": task, "result": result})
}
