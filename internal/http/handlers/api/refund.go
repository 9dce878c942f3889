package api

import (
	"strings"

	"github.com/tickrace/tickrace-sub001/internal/http/response"

	"github.com/gin-gonic/gin"
)

type refundRequest struct {
	Action string `json:"action" binding:"required"`
	Reason string `json:"reason"`
}

// Refund handles POST /api/v1/registrations/:id/refund. The action field
// selects a dry-run quote or the actual confirmation.
func (h *Handler) Refund(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	registrationID, ok := paramUint(c, "id")
	if !ok {
		response.BadRequest(c, "registration id is invalid")
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "request body is invalid")
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "quote":
		quote, err := h.RefundService.Quote(c.Request.Context(), registrationID, userID)
		if err != nil {
			respondWithMappedError(c, err, refundErrorRules, "refund quote failed")
			return
		}
		response.Success(c, quote)
	case "confirm":
		outcome, err := h.RefundService.Confirm(c.Request.Context(), registrationID, userID, req.Reason)
		if err != nil {
			respondWithMappedError(c, err, refundErrorRules, "refund failed")
			return
		}
		response.Success(c, outcome)
	default:
		response.BadRequest(c, "action must be quote or confirm")
	}
}
