package arbiter

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/middleware"
	"github.com/ridecore/dispatch/pkg/models"
)

// Handler exposes the single REST entry point acceptance arbitration
// needs: a driver claiming a ride. Every other §4.3 side effect (loser
// notification, room join) happens inside Arbiter.Accept itself.
type Handler struct {
	arbiter *Arbiter
}

// NewHandler creates a new arbiter handler.
func NewHandler(arbiter *Arbiter) *Handler {
	return &Handler{arbiter: arbiter}
}

// AcceptRide handles a driver's rideAccepted(rideId, driverId) attempt.
func (h *Handler) AcceptRide(c *gin.Context) {
	driverID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride id")
		return
	}

	var socketID *string
	if sid := c.GetHeader("X-Socket-Id"); sid != "" {
		socketID = &sid
	}

	ride, err := h.arbiter.Accept(c.Request.Context(), rideID, driverID, socketID)
	if err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to accept ride")
		return
	}

	common.SuccessResponse(c, ride)
}

// RegisterRoutes registers the acceptance route under the driver rides group.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	drivers := r.Group("/api/v1/driver/rides")
	drivers.Use(middleware.AuthMiddleware(jwtSecret), middleware.RequireRole(models.RoleDriver))
	drivers.POST("/:id/accept", h.AcceptRide)
}
