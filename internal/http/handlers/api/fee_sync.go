package api

import (
	"strconv"
	"strings"

	"github.com/tickrace/tickrace-sub001/internal/http/response"
	"github.com/tickrace/tickrace-sub001/internal/service"

	"github.com/gin-gonic/gin"
)

// SyncFees handles POST /api/v1/payments/:id/sync-fees. Service callers
// only. The path segment accepts either the payment row id or a processor
// reference.
func (h *Handler) SyncFees(c *gin.Context) {
	raw := strings.TrimSpace(c.Param("id"))
	if raw == "" {
		response.BadRequest(c, "payment identifier is required")
		return
	}
	input := service.FeeSyncInput{}
	if id, err := strconv.ParseUint(raw, 10, 64); err == nil && id > 0 {
		input.PaymentID = uint(id)
	} else {
		input.ProcessorRef = raw
	}

	result, err := h.FeeSyncService.Sync(c.Request.Context(), input)
	if err != nil {
		respondWithMappedError(c, err, feeSyncErrorRules, "fee sync failed")
		return
	}
	response.Success(c, result)
}
