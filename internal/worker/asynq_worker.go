package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/logger"
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/provider"
	"github.com/tickrace/tickrace-sub001/internal/queue"
	"github.com/tickrace/tickrace-sub001/internal/service"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

// Consumer handles the async task types.
type Consumer struct {
	*provider.Container
}

// NewConsumer creates the consumer.
func NewConsumer(c *provider.Container) *Consumer {
	return &Consumer{
		Container: c,
	}
}

// Register registers the task handlers.
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskRefundEmail, c.handleRefundEmail)
	mux.HandleFunc(queue.TaskRefundReconcile, c.handleRefundReconcile)
	mux.HandleFunc(queue.TaskInvoiceEmail, c.handleInvoiceEmail)
}

func (c *Consumer) handleRefundEmail(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.RefundEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_refund_email_unmarshal_failed", "error", err)
		return err
	}
	if payload.RefundRecordID == 0 {
		return nil
	}
	record, err := c.RefundRecordRepo.GetByID(payload.RefundRecordID)
	if err != nil {
		logger.Warnw("worker_refund_email_fetch_failed", "refund_record_id", payload.RefundRecordID, "error", err)
		return err
	}
	if record == nil {
		logger.Debugw("worker_refund_email_skip_record_not_found", "refund_record_id", payload.RefundRecordID)
		return nil
	}

	receiverEmail, memberCount, err := c.refundRecipient(record)
	if err != nil {
		logger.Warnw("worker_refund_email_recipient_failed", "refund_record_id", record.ID, "error", err)
		return err
	}
	if receiverEmail == "" {
		logger.Debugw("worker_refund_email_skip_empty_receiver", "refund_record_id", record.ID)
		return nil
	}

	courseName := ""
	if payment, err := c.PaymentRepo.GetByID(record.PaymentID); err == nil && payment != nil {
		if course, err := c.CourseRepo.GetCourse(payment.CourseID); err == nil && course != nil {
			courseName = course.Name
		}
	}

	input := service.RefundEmailInput{
		Reference:          record.Reference,
		CourseName:         courseName,
		Tier:               record.Tier,
		Percent:            record.Percent,
		RefundCents:        record.RefundCents,
		NonRefundableCents: record.NonRefundableCents,
		EffectiveRefund:    record.EffectiveRefund,
		IsTeam:             record.GroupID != nil,
		MemberCount:        memberCount,
	}
	if err := c.EmailService.SendRefundEmail(receiverEmail, input); err != nil {
		if errors.Is(err, service.ErrEmailServiceDisabled) || errors.Is(err, service.ErrEmailServiceNotConfigured) {
			logger.Debugw("worker_refund_email_skip_disabled", "refund_record_id", record.ID)
			return nil
		}
		logger.Warnw("worker_refund_email_send_failed",
			"refund_record_id", record.ID,
			"receiver_email", receiverEmail,
			"error", err,
		)
		return err
	}
	return nil
}

// handleRefundReconcile re-applies the local bookkeeping of a refund the
// processor already accepted. Safe to retry, it only acts while the record
// is still in requested state.
func (c *Consumer) handleRefundReconcile(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.RefundReconcilePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_refund_reconcile_unmarshal_failed", "error", err)
		return err
	}
	if payload.RefundRecordID == 0 {
		return nil
	}

	err := models.DB.Transaction(func(tx *gorm.DB) error {
		refundRepo := c.RefundRecordRepo.WithTx(tx)
		paymentRepo := c.PaymentRepo.WithTx(tx)
		registrationRepo := c.RegistrationRepo.WithTx(tx)
		groupRepo := c.GroupRepo.WithTx(tx)
		optionRepo := c.OptionRepo.WithTx(tx)

		record, err := refundRepo.GetByID(payload.RefundRecordID)
		if err != nil {
			return err
		}
		if record == nil {
			logger.Debugw("worker_refund_reconcile_skip_record_not_found", "refund_record_id", payload.RefundRecordID)
			return nil
		}
		if record.Status != constants.RefundStatusRequested {
			logger.Debugw("worker_refund_reconcile_skip_already_final",
				"refund_record_id", record.ID,
				"status", record.Status,
			)
			return nil
		}

		now := nowFunc()
		payment, err := paymentRepo.GetByIDForUpdate(record.PaymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return service.ErrPaymentNotFound
		}
		if record.RefundCents > 0 {
			if _, err := paymentRepo.ApplyRefund(payment.ID, record.RefundCents, now); err != nil {
				return err
			}
		}
		if err := refundRepo.MarkSucceeded(record.ID, payload.ExternalRef, now); err != nil {
			return err
		}
		if record.RegistrationID != nil {
			if err := registrationRepo.MarkCancelled(*record.RegistrationID, now); err != nil {
				return err
			}
			if _, err := optionRepo.CancelConfirmedByRegistration(*record.RegistrationID, now); err != nil {
				return err
			}
		}
		if record.GroupID != nil {
			if err := groupRepo.MarkCancelled(*record.GroupID, now); err != nil {
				return err
			}
			if _, err := registrationRepo.CancelGroupMembers(*record.GroupID, now); err != nil {
				return err
			}
			members, err := registrationRepo.ListByGroupID(*record.GroupID)
			if err != nil {
				return err
			}
			for _, member := range members {
				if _, err := optionRepo.CancelConfirmedByRegistration(member.ID, now); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		logger.Warnw("worker_refund_reconcile_failed", "refund_record_id", payload.RefundRecordID, "error", err)
		return err
	}
	return nil
}

func (c *Consumer) handleInvoiceEmail(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		return nil
	}
	var payload queue.InvoiceEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_invoice_email_unmarshal_failed", "error", err)
		return err
	}
	if payload.InvoiceID == 0 {
		return nil
	}
	invoice, err := c.InvoiceRepo.GetByID(payload.InvoiceID)
	if err != nil {
		logger.Warnw("worker_invoice_email_fetch_failed", "invoice_id", payload.InvoiceID, "error", err)
		return err
	}
	if invoice == nil {
		logger.Debugw("worker_invoice_email_skip_not_found", "invoice_id", payload.InvoiceID)
		return nil
	}
	organizer, err := c.CourseRepo.GetOrganizer(invoice.OrganizerID)
	if err != nil {
		return err
	}
	if organizer == nil || strings.TrimSpace(organizer.Email) == "" {
		logger.Debugw("worker_invoice_email_skip_empty_receiver", "invoice_id", invoice.ID)
		return nil
	}
	input := service.InvoiceEmailInput{
		Reference:  invoice.Reference,
		PeriodFrom: invoice.PeriodFrom.Format("2006-01-02"),
		PeriodTo:   invoice.PeriodTo.Format("2006-01-02"),
		TotalCents: invoice.TotalCents,
	}
	if err := c.EmailService.SendInvoiceEmail(organizer.Email, input); err != nil {
		if errors.Is(err, service.ErrEmailServiceDisabled) || errors.Is(err, service.ErrEmailServiceNotConfigured) {
			return nil
		}
		logger.Warnw("worker_invoice_email_send_failed", "invoice_id", invoice.ID, "error", err)
		return err
	}
	return nil
}

// refundRecipient resolves who gets notified about a refund.
func (c *Consumer) refundRecipient(record *models.RefundRecord) (string, int, error) {
	if record.RegistrationID != nil {
		registration, err := c.RegistrationRepo.GetByID(*record.RegistrationID)
		if err != nil || registration == nil {
			return "", 0, err
		}
		email := strings.TrimSpace(registration.Email)
		if email == "" && registration.UserID != nil {
			if user, err := c.UserRepo.GetByID(*registration.UserID); err == nil && user != nil {
				email = strings.TrimSpace(user.Email)
			}
		}
		return email, 0, nil
	}
	if record.GroupID != nil {
		group, err := c.GroupRepo.GetByID(*record.GroupID)
		if err != nil || group == nil {
			return "", 0, err
		}
		members, err := c.RegistrationRepo.ListByGroupID(group.ID)
		if err != nil {
			return "", 0, err
		}
		if group.CaptainUserID != nil {
			if user, err := c.UserRepo.GetByID(*group.CaptainUserID); err == nil && user != nil {
				return strings.TrimSpace(user.Email), len(members), nil
			}
		}
		for _, member := range members {
			if email := strings.TrimSpace(member.Email); email != "" {
				return email, len(members), nil
			}
		}
		return "", len(members), nil
	}
	return "", 0, nil
}
