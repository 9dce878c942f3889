package api

import (
	"strings"

	"github.com/tickrace/tickrace-sub001/internal/http/response"

	"github.com/gin-gonic/gin"
)

// TeamRefund handles POST /api/v1/groups/:id/refund. Same quote/confirm
// shape as the individual endpoint, captain only.
func (h *Handler) TeamRefund(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		response.Unauthorized(c, "authentication required")
		return
	}
	groupID, ok := paramUint(c, "id")
	if !ok {
		response.BadRequest(c, "group id is invalid")
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "request body is invalid")
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "quote":
		quote, err := h.TeamRefundService.Quote(c.Request.Context(), groupID, userID)
		if err != nil {
			respondWithMappedError(c, err, teamRefundErrorRules, "refund quote failed")
			return
		}
		response.Success(c, quote)
	case "confirm":
		outcome, err := h.TeamRefundService.Confirm(c.Request.Context(), groupID, userID, req.Reason)
		if err != nil {
			respondWithMappedError(c, err, teamRefundErrorRules, "refund failed")
			return
		}
		response.Success(c, outcome)
	default:
		response.BadRequest(c, "action must be quote or confirm")
	}
}
