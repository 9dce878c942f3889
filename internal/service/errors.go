package service

import "errors"

var (
	ErrRegistrationNotFound  = errors.New("registration not found")
	ErrGroupNotFound         = errors.New("group not found")
	ErrPaymentNotFound       = errors.New("payment not found")
	ErrPaymentNotSettled     = errors.New("payment not settled")
	ErrOrganizerNotFound     = errors.New("organizer not found")
	ErrCourseNotFound        = errors.New("course not found")
	ErrFormatNotFound        = errors.New("format not found")
	ErrNotRegistrationOwner  = errors.New("registration does not belong to requester")
	ErrRegistrationCancelled = errors.New("registration already cancelled")
	ErrGroupCancelled        = errors.New("group already cancelled")

	// Conflicts surfaced to the caller with a machine-readable code.
	ErrTeamPayment     = errors.New("registration is covered by a team payment")
	ErrAlreadyRefunded = errors.New("an active refund already exists")
	ErrNothingToRefund = errors.New("no refundable amount remains")
	ErrNoRefundAllowed = errors.New("the schedule allows no refund this close to the event")

	ErrProcessorRefundFailed = errors.New("processor rejected the refund")
	ErrProcessorUnavailable  = errors.New("processor unavailable")

	ErrInvoicePeriodInvalid = errors.New("invoice period invalid")
	ErrInvoiceEmpty         = errors.New("no movements in invoice period")
)
