package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/Makar0n1/art-automation/internal/apierr"
	"github.com/Makar0n1/art-automation/internal/queue"
	"github.com/Makar0n1/art-automation/internal/queue/streams"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/internal/telemetry"
	"github.com/Makar0n1/art-automation/models"
)

// GenerationsHandler implements /api/projects/:pid/generations and
// /api/generations: job creation, listing, inspection, continue and
// deletion, plus the cluster-wide queue-depth snapshot.
type GenerationsHandler struct {
	Store     *store.Store
	Redis     *redis.Client
	Publisher *streams.Publisher
	Metrics   *telemetry.Metrics
}

func (h *GenerationsHandler) register(g *echo.Group) {
	g.POST("/projects/:pid/generations", h.create)
	g.GET("/projects/:pid/generations", h.listByProject)
	g.GET("/generations", h.listAll)
	g.GET("/generations/queue/stats", h.queueStats)
	g.GET("/generations/:id", h.get)
	g.GET("/generations/:id/logs", h.logs)
	g.POST("/generations/:id/continue", h.continueJob)
	g.DELETE("/generations/:id", h.delete)
}

type createGenerationRequest struct {
	MainKeyword   string                `json:"mainKeyword"`
	ArticleType   models.ArticleType    `json:"articleType"`
	ExtraKeywords []string              `json:"extraKeywords"`
	Language      string                `json:"language"`
	Region        string                `json:"region"`
	LSIKeywords   []string              `json:"lsiKeywords"`
	StyleComment  string                `json:"styleComment"`
	Continuous    bool                  `json:"continuous"`
	InternalLinks []models.InternalLink `json:"internalLinks"`
}

func (h *GenerationsHandler) create(c echo.Context) error {
	var req createGenerationRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid request body")
	}
	if req.MainKeyword == "" {
		return fail(c, http.StatusBadRequest, "mainKeyword is required")
	}
	if !req.ArticleType.Valid() {
		return fail(c, http.StatusBadRequest, "articleType is invalid")
	}
	for _, link := range req.InternalLinks {
		if link.URL == "" || !link.Display.Valid() || !link.Position.Valid() {
			return fail(c, http.StatusBadRequest, "internalLinks entries must carry a url, a valid displayType and a valid position")
		}
	}

	ctx := c.Request().Context()
	ownerID := principalID(c)
	projectID := c.Param("pid")
	if _, err := h.Store.GetProject(ctx, ownerID, projectID); err != nil {
		return fail(c, http.StatusNotFound, "project not found")
	}

	job, err := h.Store.CreateJob(ctx, models.Job{
		ProjectID:     projectID,
		OwnerID:       ownerID,
		MainKeyword:   req.MainKeyword,
		ArticleType:   req.ArticleType,
		ExtraKeywords: req.ExtraKeywords,
		Language:      req.Language,
		Region:        req.Region,
		LSIKeywords:   req.LSIKeywords,
		StyleComment:  req.StyleComment,
		Continuous:    req.Continuous,
		InternalLinks: req.InternalLinks,
	})
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}

	if _, err := queue.Enqueue(ctx, h.Publisher, job.ID, ownerID, ""); err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusCreated, job)
}

func (h *GenerationsHandler) listByProject(c echo.Context) error {
	ctx := c.Request().Context()
	ownerID := principalID(c)
	if _, err := h.Store.GetProject(ctx, ownerID, c.Param("pid")); err != nil {
		return fail(c, http.StatusNotFound, "project not found")
	}
	jobs, err := h.Store.ListJobsByProject(ctx, ownerID, c.Param("pid"))
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, jobs)
}

func (h *GenerationsHandler) listAll(c echo.Context) error {
	status := models.GenerationStatus(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return fail(c, http.StatusBadRequest, "status is invalid")
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	jobs, err := h.Store.ListJobsByOwner(c.Request().Context(), principalID(c), status, limit, offset)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	return ok(c, http.StatusOK, jobs)
}

func queryInt(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// getJob fetches one owner-scoped job, translating the store's not-found
// sentinel into the HTTP taxonomy via apierr rather than a local literal,
// since both callers need the identical mapping.
func (h *GenerationsHandler) getJob(c echo.Context) (models.Job, error) {
	job, err := h.Store.GetJob(c.Request().Context(), principalID(c), c.Param("id"))
	if errors.Is(err, models.ErrJobNotFound) {
		return models.Job{}, apierr.NotFound("generation_not_found", "generation not found")
	}
	if err != nil {
		return models.Job{}, apierr.Internal("generation_fetch_failed", err)
	}
	return job, nil
}

func (h *GenerationsHandler) get(c echo.Context) error {
	job, err := h.getJob(c)
	if err != nil {
		return err
	}
	return ok(c, http.StatusOK, job)
}

func (h *GenerationsHandler) logs(c echo.Context) error {
	job, err := h.getJob(c)
	if err != nil {
		return err
	}

	var since time.Time
	if raw := c.QueryParam("since"); raw != "" {
		since, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			return apierr.BadRequest("invalid_since", "since must be an RFC3339 timestamp")
		}
	}

	out := make([]models.LogEntry, 0, len(job.Log))
	for _, entry := range job.Log {
		if entry.At.After(since) {
			out = append(out, entry)
		}
	}
	return ok(c, http.StatusOK, out)
}

func (h *GenerationsHandler) continueJob(c echo.Context) error {
	job, err := h.getJob(c)
	if err != nil {
		return err
	}
	if !job.Status.IsPause() {
		return apierr.BadRequest("not_paused", "generation is not paused")
	}

	ctx := c.Request().Context()
	if _, err := queue.Enqueue(ctx, h.Publisher, job.ID, principalID(c), string(job.Status)); err != nil {
		return apierr.Internal("enqueue_failed", err)
	}
	return okMessage(c, http.StatusOK, "generation resumed")
}

func (h *GenerationsHandler) delete(c echo.Context) error {
	if err := h.Store.DeleteJob(c.Request().Context(), principalID(c), c.Param("id")); err != nil {
		return fail(c, http.StatusNotFound, "generation not found")
	}
	return okMessage(c, http.StatusOK, "generation deleted")
}

func (h *GenerationsHandler) queueStats(c echo.Context) error {
	stats, err := queue.ComputeStats(c.Request().Context(), h.Redis, h.Store)
	if err != nil {
		return fail(c, http.StatusInternalServerError, err.Error())
	}
	h.Metrics.SetQueueDepth(stats)
	return ok(c, http.StatusOK, stats)
}
