package queue

import (
	"encoding/json"

	"github.com/tickrace/tickrace-sub001/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	// TaskRefundEmail refund outcome notification.
	TaskRefundEmail = constants.TaskRefundEmail
	// TaskRefundReconcile re-applies bookkeeping after a partial failure.
	TaskRefundReconcile = constants.TaskRefundReconcile
	// TaskInvoiceEmail invoice delivery notification.
	TaskInvoiceEmail = constants.TaskInvoiceEmail
)

// RefundEmailPayload refund notification task payload.
type RefundEmailPayload struct {
	RefundRecordID uint `json:"refund_record_id"`
}

// RefundReconcilePayload bookkeeping repair task payload. ExternalRef is the
// processor's refund id, already accepted when this task is enqueued.
type RefundReconcilePayload struct {
	RefundRecordID uint   `json:"refund_record_id"`
	ExternalRef    string `json:"external_ref"`
}

// InvoiceEmailPayload invoice notification task payload.
type InvoiceEmailPayload struct {
	InvoiceID uint `json:"invoice_id"`
}

// NewRefundEmailTask creates a refund notification task.
func NewRefundEmailTask(payload RefundEmailPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRefundEmail, body), nil
}

// NewRefundReconcileTask creates a bookkeeping repair task.
func NewRefundReconcileTask(payload RefundReconcilePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRefundReconcile, body), nil
}

// NewInvoiceEmailTask creates an invoice notification task.
func NewInvoiceEmailTask(payload InvoiceEmailPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceEmail, body), nil
}
