package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/qrgate/internal/application/dto"
	"github.com/turtacn/qrgate/internal/application/service"
	"github.com/turtacn/qrgate/internal/interfaces/http/middleware"
	"github.com/turtacn/qrgate/pkg/constants"
	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
	"github.com/turtacn/qrgate/pkg/utils"
)

// QRHandler serves static QR issuance and the key administration endpoints.
type QRHandler struct {
	issuance service.IssuanceAppService
	admin    service.QRAdminAppService
	logger   logger.Logger
}

// NewQRHandler creates a new QRHandler.
func NewQRHandler(issuance service.IssuanceAppService, admin service.QRAdminAppService, log logger.Logger) *QRHandler {
	return &QRHandler{
		issuance: issuance,
		admin:    admin,
		logger:   log.WithComponent("QRHandler"),
	}
}

// IssueToken godoc
// @Summary      Issue a scan token
// @Description  Resolves a printed static QR into a short-lived signed token and deep link.
// @Tags         qr
// @Produce      json
// @Param        gymId    path  string  true  "Gym ID"
// @Param        purpose  path  string  true  "ENTRY, EXIT or PAYMENT"
// @Success      200  {object}  dto.IssueTokenResponse
// @Failure      400,403,404,429,503  {object}  dto.ErrorBody
// @Router       /qr/static/{gymId}/{purpose} [get]
func (h *QRHandler) IssueToken(c *gin.Context) {
	var req dto.IssueTokenRequest
	if err := c.ShouldBindUri(&req); err != nil {
		dto.SendError(c, utils.ValidationError(err))
		return
	}
	req.ClientIP = c.ClientIP()
	req.DeviceFingerprint = c.GetHeader(constants.HeaderDeviceFingerprint)

	resp, err := h.issuance.Issue(c.Request.Context(), &req)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, resp)
}

// Rotate godoc
// @Summary      Rotate or revoke a static QR key
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request  body  dto.RotateRequest  true  "Rotation target"
// @Success      200  {object}  dto.RotateResponse
// @Failure      400,401,403,404  {object}  dto.ErrorBody
// @Router       /api/v1/admin/qr/rotate [post]
func (h *QRHandler) Rotate(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		dto.SendError(c, errors.ErrUnauthorized("authentication required"))
		return
	}
	var req dto.RotateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.SendError(c, utils.ValidationError(err))
		return
	}

	resp, err := h.admin.Rotate(c.Request.Context(), actor, &req)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Sweep godoc
// @Summary      Run a rotation sweep
// @Description  Rotates stale keys of one gym or the whole fleet. An empty body sweeps everything.
// @Tags         admin
// @Accept       json
// @Produce      json
// @Param        request  body  dto.SweepRequest  false  "Sweep options"
// @Success      200  {object}  dto.SweepResponse
// @Router       /api/v1/admin/qr/rotation/sweep [post]
func (h *QRHandler) Sweep(c *gin.Context) {
	actor, ok := middleware.ActorFrom(c)
	if !ok {
		dto.SendError(c, errors.ErrUnauthorized("authentication required"))
		return
	}
	var req dto.SweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		dto.SendError(c, utils.ValidationError(err))
		return
	}

	resp, err := h.admin.Sweep(c.Request.Context(), actor, &req)
	if err != nil {
		dto.SendError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
