package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/research"
)

type Handler struct {
	Service *Service
	mcp     http.Handler
}

func NewHandler(s *Service) *Handler {
	return &Handler{Service: s, mcp: NewMCPHandler(s)}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Any("/mcp", gin.WrapH(h.mcp))
	if h.Service.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Service.Metrics.Handler()))
	}

	api := r.Group("/api")
	{
		api.POST("/research", h.research)
		api.POST("/research/stream", h.researchStream)

		api.POST("/jobs", h.createJob)
		api.GET("/jobs", h.listJobs)
		api.GET("/jobs/:id", h.getJob)
		api.GET("/jobs/:id/logs", h.getJobLogs)

		api.GET("/learnings/search", h.searchLearnings)
	}
}

// ResearchResponse flattens StartResponse for HTTP clients.
type ResearchResponse struct {
	Questions     []string                `json:"questions,omitempty"`
	Report        string                  `json:"report,omitempty"`
	Learnings     []research.Learning     `json:"learnings,omitempty"`
	VisitedURLs   []string                `json:"visitedUrls,omitempty"`
	Breakdown     []research.Contribution `json:"breakdown,omitempty"`
	FailedQueries []string                `json:"failedQueries,omitempty"`
	Stats         *research.Stats         `json:"stats,omitempty"`
}

func toResponse(resp *research.StartResponse) ResearchResponse {
	out := ResearchResponse{Questions: resp.Questions, Report: resp.Report}
	if r := resp.Result; r != nil {
		out.Learnings = r.Learnings
		out.VisitedURLs = r.VisitedURLs
		out.Breakdown = r.Breakdown
		out.FailedQueries = r.FailedQueries
		out.Stats = &r.Stats
	}
	return out
}

func bindStart(c *gin.Context) (research.StartRequest, bool) {
	var req research.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}

func (h *Handler) research(c *gin.Context) {
	req, ok := bindStart(c)
	if !ok {
		return
	}
	resp, err := h.Service.Research(c.Request.Context(), req, nil)
	if err != nil {
		h.Service.Logger.Error("Research request failed", "query", req.Query, "error", err)
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toResponse(resp))
}

type streamEvent struct {
	Type     string             `json:"type"`
	Progress *research.Progress `json:"progress,omitempty"`
	ResearchResponse
	Error string `json:"error,omitempty"`
}

// researchStream runs research for a request that already carries feedback
// and emits progress, then the result or an error, as SSE data frames. A
// client disconnect cancels the run.
func (h *Handler) researchStream(c *gin.Context) {
	req, ok := bindStart(c)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Feedback) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrFeedbackRequired.Error()})
		return
	}

	ctx := c.Request.Context()
	events := make(chan streamEvent, 16)
	go func() {
		defer close(events)
		send := func(ev streamEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}
		resp, err := h.Service.Research(ctx, req, func(p research.Progress) {
			send(streamEvent{Type: "progress", Progress: &p})
		})
		if err != nil {
			send(streamEvent{Type: "error", Error: err.Error()})
			return
		}
		send(streamEvent{Type: "result", ResearchResponse: toResponse(resp)})
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		data, err := json.Marshal(ev)
		if err != nil {
			data, _ = json.Marshal(streamEvent{Type: "error", Error: err.Error()})
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		return true
	})

	// drain so the producer can finish after a disconnect
	for range events {
	}
}

func (h *Handler) createJob(c *gin.Context) {
	var req research.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := h.Service.CreateJob(c.Request.Context(), req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	jobs, err := h.Service.ListJobs(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}
	job, err := h.Service.GetJob(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *Handler) getJobLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return
	}
	logs, err := h.Service.GetJobLogs(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

func (h *Handler) searchLearnings(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	k := knowledge.DefaultTopK
	if raw := c.Query("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 50 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be between 1 and 50"})
			return
		}
		k = n
	}

	hits, err := h.Service.SearchLearnings(c.Request.Context(), knowledge.SearchContentArgs{
		Query: q,
		TopK:  k,
		JobID: c.Query("job"),
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": hits})
}

func statusFor(err error) int {
	var ve *research.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, ErrFeedbackRequired):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrJobsDisabled), errors.Is(err, ErrKnowledgeDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
