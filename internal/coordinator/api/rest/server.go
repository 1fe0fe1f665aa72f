package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nemanja-m/logmr/internal/coordinator/core"
	"github.com/nemanja-m/logmr/internal/shared/config"
	"github.com/nemanja-m/logmr/internal/shared/logging"
)

const defaultListLimit = 10

// API serves read-only job progress. It never mutates coordinator state.
type API struct {
	jobService    core.JobService
	workerService core.WorkerService
	logger        logging.Logger
}

func NewAPI(jobService core.JobService, workerService core.WorkerService, logger logging.Logger) *API {
	return &API{
		jobService:    jobService,
		workerService: workerService,
		logger:        logger,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jobs", a.listJobs)
	mux.HandleFunc("GET /api/jobs/{id}", a.getJob)
	mux.HandleFunc("GET /api/jobs/{id}/tasks", a.getJobTasks)
	mux.HandleFunc("GET /api/workers", a.listWorkers)
}

// getJob handles GET /api/jobs/{id}
func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.parseJobID(w, r)
	if !ok {
		return
	}

	job, err := a.jobService.GetJob(jobID)
	if err != nil {
		a.respondLookupError(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, ToGetJobResponse(job))
}

// listJobs handles GET /api/jobs with filters and pagination
func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := core.JobFilter{Limit: defaultListLimit}
	if status := query.Get("status"); status != "" {
		s := core.JobStatus(status)
		filter.Status = &s
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			filter.Limit = l
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	jobs, total, err := a.jobService.GetJobs(filter)
	if err != nil {
		a.logger.Error("Failed to list jobs", "error", err)
		a.respondError(w, http.StatusInternalServerError, "failed to list jobs", err.Error())
		return
	}

	summaries := make([]JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, ToJobSummary(job))
	}

	var nextOffset *int
	if end := filter.Offset + len(jobs); end < total {
		nextOffset = &end
	}

	a.respondJSON(w, http.StatusOK, ListJobsResponse{
		Jobs:       summaries,
		Total:      total,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
		NextOffset: nextOffset,
	})
}

// getJobTasks handles GET /api/jobs/{id}/tasks
func (a *API) getJobTasks(w http.ResponseWriter, r *http.Request) {
	jobID, ok := a.parseJobID(w, r)
	if !ok {
		return
	}

	if _, err := a.jobService.GetJob(jobID); err != nil {
		a.respondLookupError(w, err)
		return
	}

	tasks, err := a.jobService.GetTasks(jobID)
	if err != nil {
		a.respondLookupError(w, err)
		return
	}

	infos := make([]TaskInfo, 0, len(tasks))
	for _, task := range tasks {
		infos = append(infos, ToTaskInfo(task))
	}
	a.respondJSON(w, http.StatusOK, GetTasksResponse{Tasks: infos})
}

// listWorkers handles GET /api/workers
func (a *API) listWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := a.workerService.GetWorkers()
	if err != nil {
		a.logger.Error("Failed to list workers", "error", err)
		a.respondError(w, http.StatusInternalServerError, "failed to list workers", err.Error())
		return
	}

	infos := make([]WorkerInfo, 0, len(workers))
	for _, worker := range workers {
		infos = append(infos, ToWorkerInfo(worker))
	}
	a.respondJSON(w, http.StatusOK, ListWorkersResponse{Workers: infos})
}

func (a *API) parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid job ID", err.Error())
		return uuid.Nil, false
	}
	return jobID, true
}

func (a *API) respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, core.ErrJobNotFound) {
		a.respondError(w, http.StatusNotFound, "job not found", "")
		return
	}
	a.logger.Error("Failed to load job", "error", err)
	a.respondError(w, http.StatusInternalServerError, "failed to load job", err.Error())
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("Failed to encode response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, error string, message string) {
	resp := ErrorResponse{
		Error:   error,
		Message: message,
		Code:    statusCode,
	}
	a.respondJSON(w, statusCode, resp)
}

func NewServer(
	cfg config.RESTConfig,
	jobService core.JobService,
	workerService core.WorkerService,
	logger logging.Logger,
) *http.Server {
	api := NewAPI(jobService, workerService, logger)
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	handler := ChainMiddleware(
		mux,
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		ReadOnlyMiddleware,
	)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
