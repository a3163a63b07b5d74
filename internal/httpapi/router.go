// Package httpapi expose la console en HTTP/JSON avec gin.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"purifier-console/internal/lock"
	"purifier-console/internal/logging"
	"purifier-console/internal/metrics"
	"purifier-console/internal/service"
	"purifier-console/internal/storage"
	"purifier-console/internal/validation"
)

// Handler regroupe les routes de la console.
type Handler struct {
	svc     *service.Service
	metrics *metrics.Counters
	logger  *logging.Logger
}

// NewHandler crée les handlers HTTP.
func NewHandler(svc *service.Service, counters *metrics.Counters, logger *logging.Logger) *Handler {
	if counters == nil {
		counters = metrics.Default
	}
	return &Handler{svc: svc, metrics: counters, logger: logger}
}

// Router construit le moteur gin avec toutes les routes.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", gin.WrapH(metrics.Handler(h.metrics)))

	r.GET("/products/:id/price", h.productPrice)
	r.POST("/pricing/preview", h.pricingPreview)

	r.POST("/orders/quote", h.quoteOrder)
	r.POST("/orders", h.placeOrder)

	contracts := r.Group("/contracts")
	contracts.POST("", h.createContract)
	contracts.GET("", h.listContracts)
	contracts.GET("/:id", h.getContract)
	contracts.GET("/:id/history", h.contractHistory)
	contracts.POST("/:id/renew", h.renewContract)

	r.GET("/dashboard", h.dashboard)
	return r
}

// accessLog trace chaque requête dans le journal applicatif.
func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		meta := map[string]any{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			h.logger.Warn("Requête en échec", meta)
			return
		}
		h.logger.Info("Requête traitée", meta)
	}
}

// fail traduit une erreur métier en réponse HTTP.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, validation.ErrInvalid):
		body := gin.H{"error": err.Error()}
		if field, ok := validation.FieldOf(err); ok {
			body["field"] = field
		}
		c.JSON(http.StatusBadRequest, body)
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrVersionConflict),
		errors.Is(err, storage.ErrDuplicate),
		errors.Is(err, lock.ErrLocked):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Erreur interne", err, map[string]any{"path": c.FullPath()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "erreur interne"})
	}
}

// badBody répond 400 pour un corps JSON illisible.
func (h *Handler) badBody(c *gin.Context, err error) {
	h.metrics.IncValidationFailures()
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "corps JSON invalide",
		"details": err.Error(),
	})
}
