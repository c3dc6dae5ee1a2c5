package rides

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/middleware"
	"github.com/ridecore/dispatch/pkg/models"
)

// Enqueuer hands a freshly-requested ride to the Dispatch Pipeline.
// Defined here (not imported from internal/dispatch) so this package
// does not depend on internal/dispatch.
type Enqueuer interface {
	Enqueue(ctx context.Context, rideID uuid.UUID) error
}

// Handler exposes the Ride State Machine's thin REST surface. Accepting a
// ride is intentionally not here: it is owned end-to-end by
// internal/arbiter, which takes the distributed lock (spec §4.3 steps
// 1-2) before calling this package's Service.AcceptRide (step 3).
type Handler struct {
	service *Service
	queue   Enqueuer
}

// NewHandler creates a new rides handler. queue may be nil in tests that
// don't exercise RequestRide's dispatch hand-off.
func NewHandler(service *Service, queue Enqueuer) *Handler {
	return &Handler{service: service, queue: queue}
}

func respondErr(c *gin.Context, err error, fallback string) {
	if appErr, ok := err.(*common.AppError); ok {
		common.AppErrorResponse(c, appErr)
		return
	}
	common.ErrorResponse(c, http.StatusInternalServerError, fallback)
}

// RequestRide handles creating a new ride request.
func (h *Handler) RequestRide(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req models.RideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	var socketID *string
	if sid := c.GetHeader("X-Socket-Id"); sid != "" {
		socketID = &sid
	}

	ride, err := h.service.RequestRide(c.Request.Context(), userID, &req, socketID)
	if err != nil {
		respondErr(c, err, "failed to request ride")
		return
	}

	if h.queue != nil {
		if err := h.queue.Enqueue(c.Request.Context(), ride.ID); err != nil {
			common.ErrorResponse(c, http.StatusInternalServerError, "failed to enqueue ride for dispatch")
			return
		}
	}

	common.CreatedResponse(c, ride)
}

// GetRide handles getting a ride by id.
func (h *Handler) GetRide(c *gin.Context) {
	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride id")
		return
	}

	ride, err := h.service.GetRide(c.Request.Context(), rideID)
	if err != nil {
		respondErr(c, err, "failed to get ride")
		return
	}

	common.SuccessResponse(c, ride)
}

// ArriveRide handles a driver marking themselves arrived at pickup.
func (h *Handler) ArriveRide(c *gin.Context) {
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

	ride, err := h.service.ArriveRide(c.Request.Context(), rideID, driverID)
	if err != nil {
		respondErr(c, err, "failed to record arrival")
		return
	}

	common.SuccessResponse(c, ride)
}

// StartRide handles a driver starting a ride against the rider-held start OTP.
func (h *Handler) StartRide(c *gin.Context) {
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

	var req struct {
		Otp string `json:"otp" binding:"required,len=4"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ride, err := h.service.StartRide(c.Request.Context(), rideID, driverID, req.Otp)
	if err != nil {
		respondErr(c, err, "failed to start ride")
		return
	}

	common.SuccessResponse(c, ride)
}

// CompleteRide handles completing a ride against the rider-held stop OTP.
func (h *Handler) CompleteRide(c *gin.Context) {
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

	var req models.CompleteRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	ride, err := h.service.GetRide(c.Request.Context(), rideID)
	if err != nil {
		respondErr(c, err, "failed to get ride")
		return
	}

	completed, err := h.service.CompleteRide(c.Request.Context(), rideID, driverID, req.Otp, ride.Fare, req.ActualDistance)
	if err != nil {
		respondErr(c, err, "failed to complete ride")
		return
	}

	common.SuccessResponse(c, completed)
}

// CancelRide handles cancelling a ride.
func (h *Handler) CancelRide(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	rideID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid ride id")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	role, _ := middleware.GetUserRole(c)
	by := models.CancelledByRider
	if role == models.RoleDriver {
		by = models.CancelledByDriver
	}

	ride, err := h.service.CancelRide(c.Request.Context(), rideID, userID, by, req.Reason)
	if err != nil {
		respondErr(c, err, "failed to cancel ride")
		return
	}

	common.SuccessResponse(c, ride)
}

// GetMyRides handles listing rides for the authenticated caller.
func (h *Handler) GetMyRides(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	role, err := middleware.GetUserRole(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "10"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 10
	}
	offset := (page - 1) * perPage

	var rides []*models.Ride
	switch role {
	case models.RoleRider:
		rides, err = h.service.GetRiderRides(c.Request.Context(), userID, perPage, offset)
	case models.RoleDriver:
		rides, err = h.service.GetDriverRides(c.Request.Context(), userID, perPage, offset)
	default:
		common.ErrorResponse(c, http.StatusForbidden, "invalid role")
		return
	}
	if err != nil {
		respondErr(c, err, "failed to get rides")
		return
	}

	common.SuccessResponse(c, rides)
}

// RegisterRoutes registers ride routes.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtSecret))

	riders := api.Group("/rides")
	riders.Use(middleware.RequireRole(models.RoleRider, models.RoleDriver))
	{
		riders.POST("", h.RequestRide)
		riders.GET("/:id", h.GetRide)
		riders.GET("", h.GetMyRides)
		riders.POST("/:id/cancel", h.CancelRide)
	}

	drivers := api.Group("/driver/rides")
	drivers.Use(middleware.RequireRole(models.RoleDriver))
	{
		drivers.POST("/:id/arrive", h.ArriveRide)
		drivers.POST("/:id/start", h.StartRide)
		drivers.POST("/:id/complete", h.CompleteRide)
	}
}
