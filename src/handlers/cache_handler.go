package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"www.github.com/Wanderer0074348/SemCache/src/cache"
	"www.github.com/Wanderer0074348/SemCache/src/models"
)

type CacheHandler struct {
	cache    *cache.Manager
	embedder models.Embedder
	logger   *slog.Logger
}

func NewCacheHandler(m *cache.Manager, e models.Embedder, logger *slog.Logger) *CacheHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheHandler{
		cache:    m,
		embedder: e,
		logger:   logger.With("component", "http"),
	}
}

// Register mounts the cache routes on g.
func (h *CacheHandler) Register(g *gin.RouterGroup) {
	g.GET("/cache", h.GetCache)
	g.POST("/cache", h.PutCache)
	g.POST("/cache/lookup", h.LookupVector)
	g.PUT("/cache/vector", h.PutVector)
	g.DELETE("/cache/vector", h.DeleteVector)
	g.GET("/health", h.HealthCheck)
	g.GET("/stats", h.Stats)
}

// GetCache embeds ?prompt= and answers with the cached response, or 404.
func (h *CacheHandler) GetCache(c *gin.Context) {
	prompt := c.Query("prompt")
	if prompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	v, ok := h.embed(c, prompt)
	if !ok {
		return
	}
	h.lookup(c, v)
}

// PutCache embeds the prompt and caches the response. The response is
// echoed even when it could not be stored.
func (h *CacheHandler) PutCache(c *gin.Context) {
	var req models.CachePutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, ok := h.embed(c, req.Prompt)
	if !ok {
		return
	}
	h.put(c, v, req.Response)
}

// LookupVector is GetCache for callers that embed themselves.
func (h *CacheHandler) LookupVector(c *gin.Context) {
	var req models.VectorLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.lookup(c, req.Vector)
}

// PutVector is PutCache for callers that embed themselves.
func (h *CacheHandler) PutVector(c *gin.Context) {
	var req models.VectorPutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.put(c, req.Vector, req.Response)
}

// DeleteVector drops the record stored for exactly the given vector.
func (h *CacheHandler) DeleteVector(c *gin.Context) {
	var req models.VectorLookupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deleted, err := h.cache.Invalidate(c.Request.Context(), req.Vector)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Warn("cache delete failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cache unavailable"})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *CacheHandler) embed(c *gin.Context, prompt string) ([]float32, bool) {
	v, err := h.embedder.Embed(c.Request.Context(), prompt)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, false
		}
		h.logger.Error("embedding failed", "model", h.embedder.Model(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "embedding failed"})
		return nil, false
	}
	return v, true
}

func (h *CacheHandler) lookup(c *gin.Context, v []float32) {
	res, err := h.cache.Lookup(c.Request.Context(), v)
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		// Fail open: a broken store reads as a miss
		h.logger.Warn("cache lookup failed, treating as miss", "error", err)
		res = nil
	}

	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}

	similarity := res.Similarity
	c.JSON(http.StatusOK, models.CacheResponse{
		Response:   res.Payload,
		Similarity: &similarity,
		Key:        res.Key,
	})
}

func (h *CacheHandler) put(c *gin.Context, v []float32, response string) {
	out, err := h.cache.Put(c.Request.Context(), v, response)
	cached := err == nil
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Warn("cache write failed, response not cached", "error", err)
	}

	c.JSON(http.StatusOK, models.CacheResponse{
		Response: out,
		Cached:   &cached,
	})
}

func (h *CacheHandler) HealthCheck(c *gin.Context) {
	if err := h.cache.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

func (h *CacheHandler) Stats(c *gin.Context) {
	stats, err := h.cache.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"cache":     stats,
		"threshold": h.cache.Threshold(),
		"model":     h.embedder.Model(),
	})
}
