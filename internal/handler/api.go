package handler

import (
	"errors"
	"net/http"
	"strconv"

	"nnfit/internal/repository"
	"nnfit/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves stored experiments over HTTP
type Handler struct {
	repo     *repository.ExperimentRepository
	selector *service.Selector
	logger   *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(repo *repository.ExperimentRepository, selector *service.Selector, logger *zap.Logger) *Handler {
	return &Handler{
		repo:     repo,
		selector: selector,
		logger:   logger,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/experiments", h.ListExperiments)
		api.GET("/experiments/best", h.GetBest)
		api.GET("/experiments/:id", h.GetExperiment)
		api.GET("/experiments/:id/loss", h.GetLoss)
		api.GET("/experiments/:id/predictions", h.GetPredictions)

		api.GET("/training-set", h.GetTrainingSet)
		api.GET("/stats", h.GetStats)
	}

	r.GET("/health", h.HealthCheck)
}

// ListExperiments returns every experiment with its loss summary
func (h *Handler) ListExperiments(c *gin.Context) {
	experiments, err := h.repo.ListExperiments(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list experiments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list experiments"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"experiments": experiments,
		"total":       len(experiments),
	})
}

// GetBest returns the reconstruction of the minimum-loss experiment
func (h *Handler) GetBest(c *gin.Context) {
	report, err := h.selector.SelectAndReconstruct(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to select best experiment")
		return
	}

	c.JSON(http.StatusOK, report)
}

// GetExperiment returns one experiment with its final weights
func (h *Handler) GetExperiment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	exp, err := h.repo.GetExperiment(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to get experiment")
		return
	}

	resp := gin.H{"experiment": exp}
	weights, err := h.repo.GetOptimalWeights(c.Request.Context(), id)
	switch {
	case err == nil:
		resp["optimal_weights"] = weights
	case !errors.Is(err, repository.ErrExperimentNotFound):
		h.fail(c, err, "failed to get optimal weights")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetLoss returns the loss curve of one experiment
func (h *Handler) GetLoss(c *gin.Context) {
	id, ok := h.existingID(c)
	if !ok {
		return
	}

	curve, err := h.repo.QueryLossCurve(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to get loss curve")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exp_id": id,
		"loss":   curve,
		"total":  len(curve),
	})
}

// GetPredictions returns the test predictions of one experiment
func (h *Handler) GetPredictions(c *gin.Context) {
	id, ok := h.existingID(c)
	if !ok {
		return
	}

	predictions, err := h.repo.QueryPredictions(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err, "failed to get predictions")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exp_id":      id,
		"predictions": predictions,
		"total":       len(predictions),
	})
}

// GetTrainingSet returns the training set last generated by the engine
func (h *Handler) GetTrainingSet(c *gin.Context) {
	points, err := h.repo.QueryTrainingSet(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to get training set")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"points": points,
		"total":  len(points),
	})
}

// GetStats returns row counts and the integrity report
func (h *Handler) GetStats(c *gin.Context) {
	counts, err := h.repo.CountRows(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to get stats")
		return
	}

	integrity, err := h.repo.CheckIntegrity(c.Request.Context())
	if err != nil {
		h.fail(c, err, "failed to get stats")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rows":      counts,
		"integrity": integrity,
		"clean":     integrity.Clean(),
	})
}

// HealthCheck pings the database
func (h *Handler) HealthCheck(c *gin.Context) {
	if _, err := h.repo.CountRows(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// existingID parses the id parameter and checks the experiment exists
func (h *Handler) existingID(c *gin.Context) (int64, bool) {
	id, ok := parseID(c)
	if !ok {
		return 0, false
	}
	if _, err := h.repo.GetExperiment(c.Request.Context(), id); err != nil {
		h.fail(c, err, "failed to get experiment")
		return 0, false
	}
	return id, true
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid experiment ID"})
		return 0, false
	}
	return id, true
}

// fail maps repository errors to status codes
func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrExperimentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "experiment not found"})
	case errors.Is(err, repository.ErrNoExperiments):
		c.JSON(http.StatusNotFound, gin.H{"error": "no experiments stored"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
