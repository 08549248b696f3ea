package exploitdb

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP handlers for the exploit catalog API.
type Handler struct {
	store Store
}

// NewHandler creates an exploit catalog handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes sets up the exploit catalog routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/exploits", h.List)
	r.GET("/exploits/:id", h.Get)
}

// List handles GET /api/exploits
func (h *Handler) List(c *gin.Context) {
	filter := Filter{
		Chain:        c.Query("chain"),
		AttackVector: c.Query("attack_vector"),
	}

	sigs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to list exploit signatures",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    len(sigs),
		"exploits": sigs,
	})
}

// Get handles GET /api/exploits/:id
func (h *Handler) Get(c *gin.Context) {
	sig, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Exploit signature not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load exploit signature",
		})
		return
	}

	c.JSON(http.StatusOK, sig)
}
