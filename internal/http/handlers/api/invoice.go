package api

import (
	"time"

	"github.com/tickrace/tickrace-sub001/internal/http/response"
	"github.com/tickrace/tickrace-sub001/internal/service"

	"github.com/gin-gonic/gin"
)

type generateInvoiceRequest struct {
	OrganizerID uint   `json:"organizer_id" binding:"required"`
	From        string `json:"from" binding:"required"`
	To          string `json:"to" binding:"required"`
}

// GenerateInvoice handles POST /api/v1/invoices/generate. Service callers
// only.
func (h *Handler) GenerateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "request body is invalid")
		return
	}
	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		response.BadRequest(c, "from must be a date (2006-01-02)")
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		response.BadRequest(c, "to must be a date (2006-01-02)")
		return
	}

	invoice, err := h.InvoiceService.Generate(service.GenerateInput{
		OrganizerID: req.OrganizerID,
		From:        from,
		To:          to,
	})
	if err != nil {
		respondWithMappedError(c, err, invoiceErrorRules, "invoice generation failed")
		return
	}
	response.Success(c, invoice)
}

// GetInvoice handles GET /api/v1/invoices/:id.
func (h *Handler) GetInvoice(c *gin.Context) {
	invoiceID, ok := paramUint(c, "id")
	if !ok {
		response.BadRequest(c, "invoice id is invalid")
		return
	}
	invoice, err := h.InvoiceService.GetByID(invoiceID)
	if err != nil {
		respondWithMappedError(c, err, invoiceErrorRules, "invoice lookup failed")
		return
	}
	if invoice == nil {
		response.NotFound(c, "invoice not found")
		return
	}
	response.Success(c, invoice)
}

// ListInvoices handles GET /api/v1/organizers/:id/invoices.
func (h *Handler) ListInvoices(c *gin.Context) {
	organizerID, ok := paramUint(c, "id")
	if !ok {
		response.BadRequest(c, "organizer id is invalid")
		return
	}
	invoices, err := h.InvoiceService.ListByOrganizer(organizerID)
	if err != nil {
		respondWithMappedError(c, err, invoiceErrorRules, "invoice listing failed")
		return
	}
	response.Success(c, invoices)
}
