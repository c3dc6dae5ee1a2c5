package payments

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/pkg/common"
)

// Handler exposes the Gateway's inbound webhook callback — the only
// payments surface reached over plain HTTP rather than the socket/event
// bus channels the rest of the dispatch core uses, since the Gateway
// itself delivers payment confirmations this way rather than a method
// call this process can block on.
type Handler struct {
	service       *Service
	webhookSecret string
	logger        *zap.Logger
}

// NewHandler builds a payments Handler against webhookSecret, the value
// verifyWebhookSignature checks the Stripe-Signature header against.
func NewHandler(service *Service, webhookSecret string, logger *zap.Logger) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret, logger: logger}
}

// RegisterRoutes mounts the webhook callback unauthenticated (the
// signature check is the authentication) and outside the JWT-guarded
// /api/v1 group.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/webhooks/gateway", h.handleWebhook)
}

// gatewayEvent is the minimal shape this handler needs out of a Stripe
// event envelope: the payment intent id to re-fetch and verify through
// the Gateway seam, never trusted on its own without FetchPayment's
// independent confirmation.
type gatewayEvent struct {
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

func (h *Handler) handleWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		common.AppErrorResponse(c, common.NewErrorWithCode(http.StatusBadRequest, common.ErrCodePaymentAmountInvalid, "unable to read webhook body"))
		return
	}

	var evt gatewayEvent
	if err := json.Unmarshal(rawBody, &evt); err != nil || evt.Data.Object.ID == "" {
		common.AppErrorResponse(c, common.NewErrorWithCode(http.StatusBadRequest, common.ErrCodePaymentAmountInvalid, "malformed webhook payload"))
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	payment, appErr := h.service.VerifyRidePayment(c.Request.Context(), rawBody, signature, h.webhookSecret, evt.Data.Object.ID)
	if appErr != nil {
		h.logger.Warn("payments: webhook verification failed",
			zap.String("paymentId", evt.Data.Object.ID), zap.String("code", appErr.Code))
		common.AppErrorResponse(c, appErr)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "paymentId": payment.ID, "status": payment.Status})
}
