package realtime

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/middleware"
	"github.com/ridecore/dispatch/pkg/models"
	ws "github.com/ridecore/dispatch/pkg/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler wires the HTTP upgrade and inbound wire-event routing onto a
// Service/Hub pair.
type Handler struct {
	service *Service
	hub     *ws.Hub
	logger  *zap.Logger
}

// NewHandler builds a Handler and registers its inbound message routes on
// hub.
func NewHandler(service *Service, hub *ws.Hub, logger *zap.Logger) *Handler {
	h := &Handler{service: service, hub: hub, logger: logger}
	hub.RegisterHandler("driverConnect", h.onDriverConnect)
	hub.RegisterHandler("driverDisconnect", h.onDriverDisconnect)
	hub.RegisterHandler("driverLocationUpdate", h.onDriverLocationUpdate)
	hub.RegisterHandler("driverToggleStatus", h.onDriverToggleStatus)
	hub.RegisterHandler("joinRideRoom", h.onJoinRideRoom)
	hub.RegisterHandler("leaveRideRoom", h.onLeaveRideRoom)
	return h
}

// HealthCheck is an unauthenticated liveness probe.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": h.hub.GetClientCount(), "rooms": h.hub.GetRideCount()})
}

// HandleWebSocket upgrades an authenticated HTTP request to a socket,
// registers it with the Hub under a fresh per-connection socket id, runs
// the reconnection auto-join, then pumps the connection until it drops —
// at which point presence cleanup runs for drivers (spec §4.8 "Disconnect
// triggers presence cleanup").
func (h *Handler) HandleWebSocket(c *gin.Context) {
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

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("realtime: websocket upgrade failed", zap.Error(err))
		return
	}

	socketID := uuid.New().String()
	client := ws.NewClient(socketID, conn, h.hub, string(role), h.logger)
	client.SetContext(userID)
	h.hub.Register <- client

	ctx := c.Request.Context()
	h.service.OnConnect(ctx, socketID, userID, role)

	go client.WritePump()
	client.ReadPump()

	if role == models.RoleDriver {
		if err := h.service.DriverDisconnect(context.Background(), userID); err != nil {
			h.logger.Warn("realtime: presence cleanup on disconnect failed", zap.String("driverId", userID.String()), zap.Error(err))
		}
	}
}

// RegisterRoutes registers the websocket upgrade and health endpoints.
func (h *Handler) RegisterRoutes(r *gin.Engine, jwtSecret string) {
	r.GET("/healthz", h.HealthCheck)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtSecret))
	api.GET("/ws", h.HandleWebSocket)
}

func (h *Handler) onDriverConnect(client *ws.Client, msg *ws.Message) {
	driverID, ok := client.UserID()
	if !ok {
		return
	}
	if err := h.service.DriverConnect(context.Background(), driverID, client.ID); err != nil {
		h.logger.Warn("realtime: driverConnect failed", zap.String("driverId", driverID.String()), zap.Error(err))
	}
}

func (h *Handler) onDriverDisconnect(client *ws.Client, msg *ws.Message) {
	driverID, ok := client.UserID()
	if !ok {
		return
	}
	if err := h.service.DriverDisconnect(context.Background(), driverID); err != nil {
		h.logger.Warn("realtime: driverDisconnect failed", zap.String("driverId", driverID.String()), zap.Error(err))
	}
}

func (h *Handler) onDriverLocationUpdate(client *ws.Client, msg *ws.Message) {
	driverID, ok := client.UserID()
	if !ok {
		return
	}
	loc, ok := parseLocation(msg.Data)
	if !ok {
		return
	}
	if err := h.service.DriverLocationUpdate(context.Background(), driverID, loc); err != nil {
		h.logger.Warn("realtime: driverLocationUpdate failed", zap.String("driverId", driverID.String()), zap.Error(err))
	}
}

func (h *Handler) onDriverToggleStatus(client *ws.Client, msg *ws.Message) {
	driverID, ok := client.UserID()
	if !ok {
		return
	}
	active, _ := msg.Data["isActive"].(bool)
	if err := h.service.DriverToggleStatus(context.Background(), driverID, active); err != nil {
		h.logger.Warn("realtime: driverToggleStatus failed", zap.String("driverId", driverID.String()), zap.Error(err))
	}
}

func (h *Handler) onJoinRideRoom(client *ws.Client, msg *ws.Message) {
	callerID, ok := client.UserID()
	if !ok {
		return
	}
	rideID, err := uuid.Parse(msg.RideID)
	if err != nil {
		return
	}
	if err := h.service.JoinRideRoom(context.Background(), client.ID, callerID, rideID); err != nil {
		h.logger.Warn("realtime: joinRideRoom rejected", zap.String("rideId", rideID.String()), zap.Error(err))
	}
}

func (h *Handler) onLeaveRideRoom(client *ws.Client, msg *ws.Message) {
	rideID, err := uuid.Parse(msg.RideID)
	if err != nil {
		return
	}
	h.service.LeaveRideRoom(client.ID, rideID)
}

func parseLocation(data map[string]interface{}) (models.GeoPoint, bool) {
	raw, ok := data["location"].(map[string]interface{})
	if !ok {
		return models.GeoPoint{}, false
	}
	lng, ok1 := raw["lng"].(float64)
	lat, ok2 := raw["lat"].(float64)
	if !ok1 || !ok2 {
		return models.GeoPoint{}, false
	}
	return models.GeoPoint{Lng: lng, Lat: lat}, true
}
