package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mdbatch/internal/archive"
	"mdbatch/internal/batch"
	"mdbatch/internal/events"
	"mdbatch/internal/history"
)

type addFilesRequest struct {
	Paths     []string `json:"paths"`
	OutputDir string   `json:"output_dir"`
	Priority  string   `json:"priority"`
}

type taskResponse struct {
	ID           string `json:"id"`
	InputPath    string `json:"input_path"`
	OutputPath   string `json:"output_path,omitempty"`
	Priority     string `json:"priority"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	MaxRetries   int    `json:"max_retries"`
	CreatedAt    string `json:"created_at"`
	StartedAt    string `json:"started_at,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type statisticsResponse struct {
	batch.Statistics
	SuccessRate float64  `json:"success_rate"`
	Progress    float64  `json:"progress"`
	Throughput  float64  `json:"throughput"`
	ETASeconds  *float64 `json:"eta_seconds,omitempty"`
}

// API exposes the batch processor over HTTP for the surrounding UI.
type API struct {
	proc     *batch.Processor
	store    *history.Store
	recorder *events.Recorder
	filter   *batch.FileFilter
}

// NewAPI wires the handler set. store, recorder and filter may be nil.
func NewAPI(proc *batch.Processor, store *history.Store, recorder *events.Recorder, filter *batch.FileFilter) *API {
	return &API{proc: proc, store: store, recorder: recorder, filter: filter}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/batch/files", a.AddFiles)
		api.POST("/batch/pause", a.Pause)
		api.POST("/batch/resume", a.Resume)
		api.POST("/batch/cancel", a.CancelAll)
		api.GET("/batch/archive", a.DownloadArchive)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.DELETE("/tasks/:id", a.CancelTask)
		api.GET("/statistics", a.GetStatistics)
		api.GET("/history", a.GetHistory)
		api.GET("/events", a.GetEvents)
	}
}

// AddFiles enqueues conversion tasks for the submitted paths.
func (a *API) AddFiles(c *gin.Context) {
	var req addFilesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid add files request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if len(req.Paths) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no paths provided"})
		return
	}

	priority := batch.ParsePriority(req.Priority)
	tasks := a.proc.AddFiles(req.Paths, req.OutputDir, a.filter, priority)

	log.Info().Int("submitted", len(req.Paths)).Int("queued", len(tasks)).Msg("files added to batch")
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	c.JSON(http.StatusCreated, gin.H{"tasks": out})
}

// ListTasks returns snapshots of every task in admission order.
func (a *API) ListTasks(c *gin.Context) {
	tasks := a.proc.Tasks()
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": out})
}

// GetTask returns one task snapshot.
func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	if t, ok := a.proc.Task(id); ok {
		c.JSON(http.StatusOK, toTaskResponse(t))
		return
	}
	log.Warn().Str("task_id", id).Msg("task not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
}

// CancelTask cancels one queued or in-flight task.
func (a *API) CancelTask(c *gin.Context) {
	id := c.Param("id")
	if a.proc.CancelTask(id) {
		c.JSON(http.StatusOK, gin.H{"cancelled": true})
		return
	}
	if _, ok := a.proc.Task(id); ok {
		c.JSON(http.StatusConflict, gin.H{"error": "task not cancellable"})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
}

// Pause closes the dispatch gate.
func (a *API) Pause(c *gin.Context) {
	a.proc.Pause()
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Resume reopens the dispatch gate.
func (a *API) Resume(c *gin.Context) {
	a.proc.Resume()
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// CancelAll cancels every queued and in-flight task.
func (a *API) CancelAll(c *gin.Context) {
	a.proc.CancelAll()
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// DownloadArchive streams a zip of all completed conversion results.
func (a *API) DownloadArchive(c *gin.Context) {
	var completed []batch.Task
	for _, t := range a.proc.Tasks() {
		if t.Status == batch.StatusCompleted {
			completed = append(completed, t)
		}
	}
	if len(completed) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed tasks"})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="results.zip"`)
	results, err := archive.WriteResults(c.Writer, completed)
	if err != nil {
		// headers are already out, all we can do is log
		log.Error().Err(err).Msg("failed to stream archive")
		return
	}
	skipped := 0
	for _, r := range results {
		if r.Err != "" {
			skipped++
		}
	}
	log.Info().Int("entries", len(results)-skipped).Int("skipped", skipped).Msg("archive downloaded")
}

// GetStatistics returns the counters plus derived metrics.
func (a *API) GetStatistics(c *gin.Context) {
	stats := a.proc.Statistics()
	resp := statisticsResponse{
		Statistics:  stats,
		SuccessRate: stats.SuccessRate(),
		Progress:    stats.Progress(),
		Throughput:  stats.Throughput(),
	}
	if eta, ok := stats.ETA(); ok {
		seconds := eta.Seconds()
		resp.ETASeconds = &seconds
	}
	c.JSON(http.StatusOK, resp)
}

// GetHistory lists finished tasks from the history store.
func (a *API) GetHistory(c *gin.Context) {
	if a.store == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "history not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := a.store.Recent(c.Request.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": records})
}

// GetEvents returns the most recent lifecycle events.
func (a *API) GetEvents(c *gin.Context) {
	if a.recorder == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	c.JSON(http.StatusOK, gin.H{"events": a.recorder.Recent(limit)})
}

func toTaskResponse(t batch.Task) taskResponse {
	resp := taskResponse{
		ID:           t.ID,
		InputPath:    t.InputPath,
		OutputPath:   t.OutputPath,
		Priority:     t.Priority.String(),
		Status:       string(t.Status),
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339),
		ErrorMessage: t.ErrorMessage,
	}
	if !t.StartedAt.IsZero() {
		resp.StartedAt = t.StartedAt.UTC().Format(time.RFC3339)
	}
	if !t.CompletedAt.IsZero() {
		resp.CompletedAt = t.CompletedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
