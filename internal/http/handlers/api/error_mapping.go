package api

import (
	"errors"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/http/response"
	"github.com/tickrace/tickrace-sub001/internal/logger"
	"github.com/tickrace/tickrace-sub001/internal/service"

	"github.com/gin-gonic/gin"
)

// mappedHandlerError maps one business error to an API response. A non-empty
// conflictCode additionally surfaces a machine-readable label in data.
type mappedHandlerError struct {
	target       error
	code         int
	msg          string
	conflictCode string
}

func respondWithMappedError(c *gin.Context, err error, rules []mappedHandlerError, fallbackMsg string) {
	for _, rule := range rules {
		if errors.Is(err, rule.target) {
			if rule.conflictCode != "" {
				response.Conflict(c, rule.conflictCode, rule.msg)
				return
			}
			response.Error(c, rule.code, rule.msg)
			return
		}
	}
	logger.Errorw("api_unmapped_error", "path", c.FullPath(), "error", err)
	response.Error(c, response.CodeInternal, fallbackMsg)
}

var refundErrorRules = []mappedHandlerError{
	{target: service.ErrRegistrationNotFound, code: response.CodeNotFound, msg: "registration not found"},
	{target: service.ErrFormatNotFound, code: response.CodeNotFound, msg: "race format not found"},
	{target: service.ErrPaymentNotFound, code: response.CodeNotFound, msg: "no payment covers this registration"},
	{target: service.ErrNotRegistrationOwner, code: response.CodeForbidden, msg: "registration does not belong to you"},
	{target: service.ErrRegistrationCancelled, code: response.CodeConflict, msg: "registration already cancelled", conflictCode: constants.ConflictAlreadyRefunded},
	{target: service.ErrTeamPayment, code: response.CodeConflict, msg: "registration was paid as part of a team, cancel through the team captain", conflictCode: constants.ConflictTeamPayment},
	{target: service.ErrAlreadyRefunded, code: response.CodeConflict, msg: "a refund already exists for this registration", conflictCode: constants.ConflictAlreadyRefunded},
	{target: service.ErrNothingToRefund, code: response.CodeConflict, msg: "nothing remains to refund on this payment", conflictCode: constants.ConflictNothingToRefund},
	{target: service.ErrPaymentNotSettled, code: response.CodeBadRequest, msg: "payment is not settled yet"},
	{target: service.ErrProcessorRefundFailed, code: response.CodeUpstream, msg: "payment processor rejected the refund"},
	{target: service.ErrProcessorUnavailable, code: response.CodeUpstream, msg: "payment processor unavailable, try again later"},
}

var teamRefundErrorRules = []mappedHandlerError{
	{target: service.ErrGroupNotFound, code: response.CodeNotFound, msg: "group not found"},
	{target: service.ErrFormatNotFound, code: response.CodeNotFound, msg: "race format not found"},
	{target: service.ErrPaymentNotFound, code: response.CodeNotFound, msg: "no payment covers this group"},
	{target: service.ErrNotRegistrationOwner, code: response.CodeForbidden, msg: "only the team captain can cancel the group"},
	{target: service.ErrGroupCancelled, code: response.CodeConflict, msg: "group already cancelled", conflictCode: constants.ConflictAlreadyRefunded},
	{target: service.ErrAlreadyRefunded, code: response.CodeConflict, msg: "a refund already exists for this group", conflictCode: constants.ConflictAlreadyRefunded},
	{target: service.ErrNoRefundAllowed, code: response.CodeConflict, msg: "the cancellation schedule allows no refund this close to the event", conflictCode: constants.ConflictNoRefundAllowed},
	{target: service.ErrNothingToRefund, code: response.CodeConflict, msg: "nothing remains to refund on this payment", conflictCode: constants.ConflictNothingToRefund},
	{target: service.ErrPaymentNotSettled, code: response.CodeBadRequest, msg: "payment is not settled yet"},
	{target: service.ErrProcessorRefundFailed, code: response.CodeUpstream, msg: "payment processor rejected the refund"},
	{target: service.ErrProcessorUnavailable, code: response.CodeUpstream, msg: "payment processor unavailable, try again later"},
}

var feeSyncErrorRules = []mappedHandlerError{
	{target: service.ErrPaymentNotFound, code: response.CodeNotFound, msg: "payment not found"},
	{target: service.ErrPaymentNotSettled, code: response.CodeBadRequest, msg: "payment has no settled charge to sync"},
	{target: service.ErrProcessorUnavailable, code: response.CodeUpstream, msg: "payment processor unavailable, try again later"},
}

var ledgerErrorRules = []mappedHandlerError{
	{target: service.ErrOrganizerNotFound, code: response.CodeNotFound, msg: "organizer not found"},
	{target: service.ErrInvoicePeriodInvalid, code: response.CodeBadRequest, msg: "period is invalid"},
}

var invoiceErrorRules = []mappedHandlerError{
	{target: service.ErrOrganizerNotFound, code: response.CodeNotFound, msg: "organizer not found"},
	{target: service.ErrInvoicePeriodInvalid, code: response.CodeBadRequest, msg: "period is invalid"},
	{target: service.ErrInvoiceEmpty, code: response.CodeBadRequest, msg: "no movements in the period, nothing to invoice"},
}
