package dispatch

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/middleware"
	"github.com/ridecore/dispatch/pkg/models"
)

// RideRejecter is the subset of internal/rides.Service the reject
// endpoint needs.
type RideRejecter interface {
	RejectRide(ctx context.Context, rideID, driverID uuid.UUID) (*models.Ride, error)
}

// Handler exposes the driver-facing rideRejected entry point; enqueueing
// and cascading are triggered from here rather than from internal/rides
// itself, keeping the state-machine package free of dispatch concerns.
type Handler struct {
	rides    RideRejecter
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewHandler creates a new dispatch handler.
func NewHandler(rides RideRejecter, pipeline *Pipeline, logger *zap.Logger) *Handler {
	return &Handler{rides: rides, pipeline: pipeline, logger: logger}
}

// RejectRide handles a driver declining a notified ride (spec §4.4
// trigger). The cascade condition (all notified drivers have rejected)
// is evaluated synchronously so the retry round is enqueued promptly.
func (h *Handler) RejectRide(c *gin.Context) {
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

	ctx := c.Request.Context()
	ride, err := h.rides.RejectRide(ctx, rideID, driverID)
	if err != nil {
		if appErr, ok := err.(*common.AppError); ok {
			common.AppErrorResponse(c, appErr)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "failed to record rejection")
		return
	}

	if ride.Status == models.RideStatusRequested && ride.AllNotifiedRejected() {
		go func() {
			cascadeCtx := context.Background()
			if err := h.pipeline.Cascade(cascadeCtx, rideID); err != nil {
				h.logger.Warn("dispatch: cascade failed", zap.String("rideId", rideID.String()), zap.Error(err))
			}
		}()
	}

	common.SuccessResponse(c, ride)
}

// RegisterRoutes registers the reject route under the driver rides group.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	drivers := r.Group("/api/v1/driver/rides")
	drivers.Use(middleware.AuthMiddleware(jwtSecret), middleware.RequireRole(models.RoleDriver))
	drivers.POST("/:id/reject", h.RejectRide)
}
