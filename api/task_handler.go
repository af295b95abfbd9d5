package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/emberline/stoker"
	"github.com/emberline/stoker/id"
	"github.com/emberline/stoker/job"
)

// CreateTaskRequest enqueues a registered task by name. Input carries
// the handler arguments verbatim; Metadata is stored and echoed back
// on every summary.
type CreateTaskRequest struct {
	Task          string          `json:"task" binding:"required"`
	Input         json.RawMessage `json:"input"`
	Cancellable   bool            `json:"cancellable"`
	TrackProgress bool            `json:"track_progress"`
	Metadata      map[string]any  `json:"metadata"`
}

// ClearTasksResponse reports how many settled records were removed.
type ClearTasksResponse struct {
	Removed int64 `json:"removed"`
}

func (a *API) listTasks(c *gin.Context) {
	jobs, err := a.queue.Jobs(c.Request.Context())
	if err != nil {
		a.serverError(c, err)
		return
	}

	summaries := make([]job.Summary, 0, len(jobs))
	for _, j := range jobs {
		summaries = append(summaries, job.Summarize(j))
	}
	c.JSON(http.StatusOK, summaries)
}

func (a *API) createTask(c *gin.Context) {
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := make([]job.Option, 0, 3)
	if req.Cancellable {
		opts = append(opts, job.WithCancellable())
	}
	if req.TrackProgress {
		opts = append(opts, job.WithTrackProgress())
	}
	if len(req.Metadata) > 0 {
		opts = append(opts, job.WithMetadata(req.Metadata))
	}

	var payload any
	if len(req.Input) > 0 {
		payload = req.Input
	}

	taskID, err := a.queue.Enqueue(c.Request.Context(), req.Task, payload, opts...)
	if err != nil {
		if errors.Is(err, stoker.ErrInvalidFunction) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.serverError(c, err)
		return
	}

	j, err := a.queue.FetchJob(c.Request.Context(), taskID)
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job.Summarize(j))
}

func (a *API) getTask(c *gin.Context) {
	taskID, ok := a.taskID(c)
	if !ok {
		return
	}

	j, err := a.queue.FetchJob(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, stoker.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Summarize(j))
}

func (a *API) cancelTask(c *gin.Context) {
	taskID, ok := a.taskID(c)
	if !ok {
		return
	}

	if err := a.queue.Cancel(c.Request.Context(), taskID); err != nil {
		if errors.Is(err, stoker.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		a.serverError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) clearTask(c *gin.Context) {
	taskID, ok := a.taskID(c)
	if !ok {
		return
	}

	if err := a.queue.ClearJob(c.Request.Context(), taskID); err != nil {
		if errors.Is(err, stoker.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		a.serverError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) clearTasks(c *gin.Context) {
	removed, err := a.queue.Clear(c.Request.Context())
	if err != nil {
		a.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, ClearTasksResponse{Removed: removed})
}

func (a *API) emptyTasks(c *gin.Context) {
	if err := a.queue.Empty(c.Request.Context()); err != nil {
		a.serverError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// taskID parses the path parameter, answering 400 itself on bad input.
func (a *API) taskID(c *gin.Context) (id.TaskID, bool) {
	taskID, err := id.ParseTaskID(c.Param("taskId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id: " + err.Error()})
		return id.Nil, false
	}
	return taskID, true
}

func (a *API) serverError(c *gin.Context, err error) {
	a.logger.Error("task api request failed",
		slog.String("path", c.FullPath()),
		slog.String("error", err.Error()))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
