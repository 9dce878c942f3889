package api

import (
	"strings"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/http/response"

	"github.com/gin-gonic/gin"
)

// Ledger handles GET /api/v1/organizers/:id/ledger. Defaults to the
// current calendar month when no period is given; from is inclusive, to
// exclusive.
func (h *Handler) Ledger(c *gin.Context) {
	organizerID, ok := paramUint(c, "id")
	if !ok {
		response.BadRequest(c, "organizer id is invalid")
		return
	}
	from, to, ok := parsePeriod(c.Query("from"), c.Query("to"))
	if !ok {
		response.BadRequest(c, "period must be given as from/to dates (2006-01-02)")
		return
	}

	view, err := h.LedgerService.View(c.Request.Context(), organizerID, from, to)
	if err != nil {
		respondWithMappedError(c, err, ledgerErrorRules, "ledger query failed")
		return
	}
	response.Success(c, view)
}

func parsePeriod(fromRaw, toRaw string) (time.Time, time.Time, bool) {
	fromRaw = strings.TrimSpace(fromRaw)
	toRaw = strings.TrimSpace(toRaw)
	if fromRaw == "" && toRaw == "" {
		now := time.Now().UTC()
		from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, 0), true
	}
	from, err := time.Parse("2006-01-02", fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	to, err := time.Parse("2006-01-02", toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}
