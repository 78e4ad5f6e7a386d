package handler

import (
	"errors"
	"net/http"
	"strconv"

	"post-curator/internal/calibration"
	"post-curator/internal/judge"
	"post-curator/internal/llm"
	"post-curator/internal/metrics"
	"post-curator/internal/middleware"
	"post-curator/internal/models"
	"post-curator/internal/repository"
	"post-curator/internal/scheduler"
	"post-curator/internal/service"
	"post-curator/internal/source"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler handles HTTP requests
type Handler struct {
	curator     *service.Curator
	posts       repository.PostRepository
	calibration *calibration.Aggregator
	metrics     *metrics.Metrics
	adminSecret string
	jobs        JobLister
	logger      *zap.Logger
}

// JobLister reports the scheduled jobs shown on /health.
type JobLister interface {
	ListJobs() []scheduler.JobInfo
}

// NewHandler creates a new API handler
func NewHandler(
	curator *service.Curator,
	posts repository.PostRepository,
	aggregator *calibration.Aggregator,
	m *metrics.Metrics,
	adminSecret string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		curator:     curator,
		posts:       posts,
		calibration: aggregator,
		metrics:     m,
		adminSecret: adminSecret,
		logger:      logger,
	}
}

// SetJobs adds the scheduler's jobs to the health report.
func (h *Handler) SetJobs(jobs JobLister) {
	h.jobs = jobs
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Review data
		api.GET("/posts", h.ListPosts)
		api.GET("/posts/:id", h.GetPost)
		api.GET("/gold-examples", h.GetGoldExamples)
		api.GET("/authors/:username/frequency", h.GetAuthorFrequency)
		api.GET("/stats", h.GetStats)

		// Everything below writes to the store or spends judge calls
		admin := api.Group("", middleware.RequireAdminSecret(h.adminSecret, h.logger))
		admin.PUT("/posts/:id/human-decision", h.SetHumanDecision)
		admin.PUT("/posts/:id/gold-example", h.SetGoldExample)
		admin.POST("/posts/:id/reevaluate", h.Reevaluate)
		admin.POST("/ingest", h.Ingest)
		admin.POST("/quick-filter", h.QuickFilter)
		admin.POST("/evaluate", h.Evaluate)
	}

	// Health check
	r.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
}

// ListPosts returns one page of posts
// GET /api/v1/posts
func (h *Handler) ListPosts(c *gin.Context) {
	var (
		filter models.ListFilter
		err    error
	)

	if filter.ModelApproved, err = models.ParseTriState(c.Query("model_approved")); err != nil {
		h.writeError(c, err, "invalid model_approved filter")
		return
	}
	if filter.HumanDecision, err = models.ParseHumanDecisionFilter(c.Query("human_decision")); err != nil {
		h.writeError(c, err, "invalid human_decision filter")
		return
	}
	if filter.HasModelDecision, err = models.ParseOptionalBool(c.Query("has_model_decision")); err != nil {
		h.writeError(c, err, "invalid has_model_decision filter")
		return
	}
	if filter.GoldExampleType, err = models.ParseGoldExampleType(c.Query("gold_type")); err != nil {
		h.writeError(c, err, "invalid gold_type filter")
		return
	}
	if filter.HasGoldExample, err = models.ParseOptionalBool(c.Query("has_gold")); err != nil {
		h.writeError(c, err, "invalid has_gold filter")
		return
	}

	sort, err := models.ParseSort(c.Query("sort"), c.Query("order"))
	if err != nil {
		h.writeError(c, err, "invalid sort")
		return
	}

	page, err := queryInt(c, "page")
	if err != nil {
		h.writeError(c, err, "invalid page")
		return
	}
	pageSize, err := queryInt(c, "page_size")
	if err != nil {
		h.writeError(c, err, "invalid page_size")
		return
	}

	result, err := h.posts.List(c.Request.Context(), filter, models.Pagination{Page: page, PageSize: pageSize}, sort)
	if err != nil {
		h.writeError(c, err, "failed to list posts")
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetPost returns a single post
// GET /api/v1/posts/:id
func (h *Handler) GetPost(c *gin.Context) {
	rec, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "failed to get post")
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// GetGoldExamples returns gold examples, optionally of one type
// GET /api/v1/gold-examples?type=good|bad
func (h *Handler) GetGoldExamples(c *gin.Context) {
	exampleType, err := models.ParseGoldExampleType(c.Query("type"))
	if err != nil {
		h.writeError(c, err, "invalid gold example type")
		return
	}

	records, err := h.posts.GoldExamples(c.Request.Context(), exampleType)
	if err != nil {
		h.writeError(c, err, "failed to get gold examples")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"examples": records,
		"total":    len(records),
	})
}

// GetAuthorFrequency reports how often an author was recently approved
// GET /api/v1/authors/:username/frequency
func (h *Handler) GetAuthorFrequency(c *gin.Context) {
	freq, err := h.calibration.AuthorFrequency(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.writeError(c, err, "failed to get author frequency")
		return
	}

	c.JSON(http.StatusOK, freq)
}

// GetStats returns decision store counts
func (h *Handler) GetStats(c *gin.Context) {
	stats, err := h.posts.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "failed to get stats")
		return
	}

	c.JSON(http.StatusOK, stats)
}

type humanDecisionRequest struct {
	Decision *string `json:"decision"`
}

// SetHumanDecision sets or clears the human decision
// PUT /api/v1/posts/:id/human-decision
func (h *Handler) SetHumanDecision(c *gin.Context) {
	var req humanDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var raw string
	if req.Decision != nil {
		raw = *req.Decision
	}
	decision, err := models.ParseHumanDecision(raw)
	if err != nil {
		h.writeError(c, err, "invalid decision")
		return
	}

	h.updateAndRespond(c, func() (bool, error) {
		return h.posts.SetHumanDecision(c.Request.Context(), c.Param("id"), decision)
	})
}

type goldExampleRequest struct {
	Type       *string `json:"type"`
	Correction *string `json:"correction"`
}

// SetGoldExample sets or clears the gold example flag
// PUT /api/v1/posts/:id/gold-example
func (h *Handler) SetGoldExample(c *gin.Context) {
	var req goldExampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var raw string
	if req.Type != nil {
		raw = *req.Type
	}
	exampleType, err := models.ParseGoldExampleType(raw)
	if err != nil {
		h.writeError(c, err, "invalid gold example type")
		return
	}
	correction, err := models.ValidateGoldExample(exampleType, req.Correction)
	if err != nil {
		h.writeError(c, err, "invalid gold example")
		return
	}

	h.updateAndRespond(c, func() (bool, error) {
		return h.posts.SetGoldExample(c.Request.Context(), c.Param("id"), exampleType, correction)
	})
}

// updateAndRespond runs a store mutation and answers with the updated post.
func (h *Handler) updateAndRespond(c *gin.Context, update func() (bool, error)) {
	found, err := update()
	if err != nil {
		h.writeError(c, err, "failed to update post")
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}
	h.GetPost(c)
}

// Reevaluate judges a stored post again
// POST /api/v1/posts/:id/reevaluate
func (h *Handler) Reevaluate(c *gin.Context) {
	result, err := h.curator.Reevaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err, "re-evaluation failed")
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "post not found"})
		return
	}

	c.JSON(http.StatusOK, result)
}

type ingestRequest struct {
	Posts []models.RawPost `json:"posts" binding:"required"`
}

// Ingest runs a batch over the posted candidates
// POST /api/v1/ingest
func (h *Handler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.curator.RunBatch(c.Request.Context(), source.Normalize(req.Posts))
	if err != nil {
		status, msg := h.classify(err, "batch run failed")
		body := gin.H{"error": msg}
		if summary != nil {
			body["summary"] = summary
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type textRequest struct {
	Text string `json:"text" binding:"required"`
}

// QuickFilter screens a piece of text
// POST /api/v1/quick-filter
func (h *Handler) QuickFilter(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.curator.QuickFilter(c.Request.Context(), req.Text)
	if err != nil {
		h.writeError(c, err, "quick filter failed")
		return
	}

	c.JSON(http.StatusOK, result)
}

// Evaluate judges a piece of text without storing it
// POST /api/v1/evaluate
func (h *Handler) Evaluate(c *gin.Context) {
	var req textRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.curator.Evaluate(c.Request.Context(), req.Text)
	if err != nil {
		h.writeError(c, err, "evaluation failed")
		return
	}

	c.JSON(http.StatusOK, result)
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status":  "healthy",
		"service": "post-curator",
	}
	if h.jobs != nil {
		body["jobs"] = h.jobs.ListJobs()
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	status, text := h.classify(err, msg)
	var downgrade *judge.DowngradeError
	if errors.As(err, &downgrade) {
		c.JSON(status, gin.H{"error": text, "result": downgrade.Result})
		return
	}
	c.JSON(status, gin.H{"error": text})
}

// classify maps domain errors onto HTTP statuses. Unexpected errors are
// logged and reported without detail.
func (h *Handler) classify(err error, msg string) (int, string) {
	var downgrade *judge.DowngradeError
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrBatchInProgress):
		return http.StatusConflict, err.Error()
	case errors.Is(err, service.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	case errors.As(err, &downgrade):
		return http.StatusConflict, err.Error()
	case errors.Is(err, judge.ErrMalformedResponse):
		h.logger.Warn(msg, zap.Error(err))
		return http.StatusBadGateway, "judge returned a malformed response"
	case llm.IsQuotaExhausted(err):
		h.logger.Error(msg, zap.Error(err))
		return http.StatusServiceUnavailable, "judge quota exhausted"
	case llm.IsRateLimited(err):
		h.logger.Warn(msg, zap.Error(err))
		return http.StatusServiceUnavailable, "judge rate limited, try again later"
	}
	h.logger.Error(msg, zap.Error(err))
	return http.StatusInternalServerError, msg
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Join(models.ErrInvalidInput, err)
	}
	return n, nil
}
