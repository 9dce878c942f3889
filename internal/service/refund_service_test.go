package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/config"
	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/payment/stripe"
	"github.com/tickrace/tickrace-sub001/internal/queue"
	"github.com/tickrace/tickrace-sub001/internal/repository"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fakeGateway struct {
	refundCalls int
	lastRefund  stripe.RefundInput
	refundKeys  []string
	refundErr   error
	refundID    string
	onRefund    func()

	chargeCalls int
	charge      stripe.ChargeResult
	chargeErr   error

	items    []stripe.LineItem
	itemsErr error
}

func (g *fakeGateway) CreateRefund(ctx context.Context, input stripe.RefundInput) (*stripe.RefundResult, error) {
	g.refundCalls++
	g.lastRefund = input
	g.refundKeys = append(g.refundKeys, input.IdempotencyKey)
	if g.onRefund != nil {
		g.onRefund()
	}
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	id := g.refundID
	if id == "" {
		id = "re_test_1"
	}
	return &stripe.RefundResult{
		RefundID:    id,
		Status:      "succeeded",
		AmountCents: input.AmountCents,
		ChargeRef:   input.ChargeRef,
	}, nil
}

func (g *fakeGateway) GetCharge(ctx context.Context, chargeRef string) (*stripe.ChargeResult, error) {
	g.chargeCalls++
	if g.chargeErr != nil {
		return nil, g.chargeErr
	}
	charge := g.charge
	if charge.ChargeID == "" {
		charge.ChargeID = chargeRef
	}
	return &charge, nil
}

func (g *fakeGateway) ListLineItems(ctx context.Context, sessionRef string) ([]stripe.LineItem, error) {
	if g.itemsErr != nil {
		return nil, g.itemsErr
	}
	return g.items, nil
}

func openSettlementTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.Organizer{},
		&models.Course{},
		&models.Format{},
		&models.CourseOption{},
		&models.Registration{},
		&models.Group{},
		&models.RegistrationOption{},
		&models.Payment{},
		&models.RefundRecord{},
		&models.FeeAdjustment{},
		&models.Payout{},
		&models.Invoice{},
		&models.InvoiceSequence{},
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	models.DB = db
	return db
}

func disabledQueueClient(t *testing.T) *queue.Client {
	t.Helper()
	client, err := queue.NewClient(&config.QueueConfig{Enabled: false})
	if err != nil {
		t.Fatalf("queue client failed: %v", err)
	}
	return client
}

func setupRefundServiceTest(t *testing.T, name string) (*RefundService, *fakeGateway, *gorm.DB) {
	t.Helper()
	db := openSettlementTestDB(t, name)
	gateway := &fakeGateway{}
	svc := NewRefundService(
		repository.NewRegistrationRepository(db),
		repository.NewGroupRepository(db),
		repository.NewPaymentRepository(db),
		repository.NewRefundRecordRepository(db),
		repository.NewOptionRepository(db),
		repository.NewCourseRepository(db),
		gateway,
		disabledQueueClient(t),
	)
	return svc, gateway, db
}

// seedIndividualPayment wires organizer -> course -> format -> registration
// with one confirmed payment covering only that registration.
func seedIndividualPayment(t *testing.T, db *gorm.DB, eventDate time.Time, grossCents int64) (*models.Registration, *models.Payment) {
	t.Helper()
	userID := uint(1)
	if err := db.Create(&models.User{ID: userID, Email: "runner@example.com"}).Error; err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if err := db.Create(&models.Organizer{ID: 1, Name: "Trail Org", Email: "org@example.com"}).Error; err != nil {
		t.Fatalf("create organizer failed: %v", err)
	}
	if err := db.Create(&models.Course{ID: 1, OrganizerID: 1, Name: "Ultra des Cimes"}).Error; err != nil {
		t.Fatalf("create course failed: %v", err)
	}
	if err := db.Create(&models.Format{ID: 1, CourseID: 1, Name: "42K", EventDate: eventDate, PriceCents: grossCents}).Error; err != nil {
		t.Fatalf("create format failed: %v", err)
	}
	registration := models.Registration{
		ID:       1,
		FormatID: 1,
		UserID:   &userID,
		Email:    "runner@example.com",
		Status:   constants.RegistrationStatusActive,
	}
	if err := db.Create(&registration).Error; err != nil {
		t.Fatalf("create registration failed: %v", err)
	}
	confirmedAt := time.Now().Add(-72 * time.Hour)
	payment := models.Payment{
		ID:               1,
		CourseID:         1,
		PayerUserID:      &userID,
		RegistrationID:   &registration.ID,
		GrossCents:       grossCents,
		PlatformFeeCents: 250,
		Status:           constants.PaymentStatusConfirmed,
		ChargeRef:        "ch_test_1",
		ConfirmedAt:      &confirmedAt,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	return &registration, &payment
}

func TestRefundQuoteThirtyDaysOut(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_quote_t30")
	registration, payment := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)

	quote, err := svc.Quote(context.Background(), registration.ID, 1)
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	if quote.Tier != constants.TierT30Plus || quote.Percent != 90 {
		t.Fatalf("unexpected tier: %+v", quote)
	}
	if quote.RefundCents != 9000 || quote.NonRefundableCents != 1000 {
		t.Fatalf("unexpected amounts: %+v", quote)
	}
	if quote.PaymentID != payment.ID || quote.Currency != constants.SettlementCurrency {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if gateway.refundCalls != 0 {
		t.Fatalf("quote must not touch the processor, got %d calls", gateway.refundCalls)
	}
}

func TestRefundConfirmMidTier(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_confirm_t3")
	registration, payment := seedIndividualPayment(t, db, time.Now().Add(5*24*time.Hour+12*time.Hour), 5000)
	if err := db.Create(&models.RegistrationOption{RegistrationID: registration.ID, OptionID: 7, Label: "Bus shuttle", Quantity: 1, UnitPriceCents: 800, Status: constants.OptionStatusConfirmed}).Error; err != nil {
		t.Fatalf("create option line failed: %v", err)
	}

	outcome, err := svc.Confirm(context.Background(), registration.ID, 1, "injury")
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if !outcome.EffectiveRefund || outcome.Already {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Quote.Tier != constants.TierT3 || outcome.Quote.RefundCents != 1500 {
		t.Fatalf("unexpected quote: %+v", outcome.Quote)
	}
	if gateway.refundCalls != 1 {
		t.Fatalf("expected one processor call, got %d", gateway.refundCalls)
	}
	if gateway.lastRefund.AmountCents != 1500 || gateway.lastRefund.ChargeRef != "ch_test_1" {
		t.Fatalf("unexpected refund input: %+v", gateway.lastRefund)
	}
	if len(gateway.lastRefund.IdempotencyKey) != 64 {
		t.Fatalf("expected sha256 idempotency key, got %q", gateway.lastRefund.IdempotencyKey)
	}

	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 1500 || storedPayment.Status != constants.PaymentStatusPartiallyRefunded {
		t.Fatalf("unexpected payment state: %+v", storedPayment)
	}

	var storedRegistration models.Registration
	if err := db.First(&storedRegistration, registration.ID).Error; err != nil {
		t.Fatalf("load registration failed: %v", err)
	}
	if storedRegistration.Status != constants.RegistrationStatusCancelled || storedRegistration.CancelledAt == nil {
		t.Fatalf("registration not cancelled: %+v", storedRegistration)
	}

	var storedOption models.RegistrationOption
	if err := db.Where("registration_id = ?", registration.ID).First(&storedOption).Error; err != nil {
		t.Fatalf("load option failed: %v", err)
	}
	if storedOption.Status != constants.OptionStatusCancelled {
		t.Fatalf("option not cancelled: %+v", storedOption)
	}

	var record models.RefundRecord
	if err := db.First(&record, outcome.Record.ID).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.Status != constants.RefundStatusSucceeded || record.ExternalRef != "re_test_1" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.ProcessedAt == nil || !record.EffectiveRefund {
		t.Fatalf("record missing processed marks: %+v", record)
	}
}

func TestRefundConfirmZeroPercentStillCancels(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_confirm_t0")
	registration, payment := seedIndividualPayment(t, db, time.Now().Add(24*time.Hour), 5000)

	outcome, err := svc.Confirm(context.Background(), registration.ID, 1, "late cancellation")
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if outcome.EffectiveRefund {
		t.Fatalf("zero-percent confirm must not report an effective refund: %+v", outcome)
	}
	if gateway.refundCalls != 0 {
		t.Fatalf("zero-percent confirm must not touch the processor, got %d calls", gateway.refundCalls)
	}
	if outcome.Record.RefundCents != 0 || outcome.Record.Status != constants.RefundStatusSucceeded {
		t.Fatalf("unexpected record: %+v", outcome.Record)
	}

	var storedRegistration models.Registration
	if err := db.First(&storedRegistration, registration.ID).Error; err != nil {
		t.Fatalf("load registration failed: %v", err)
	}
	if storedRegistration.Status != constants.RegistrationStatusCancelled {
		t.Fatalf("registration not cancelled: %+v", storedRegistration)
	}

	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 0 || storedPayment.Status != constants.PaymentStatusConfirmed {
		t.Fatalf("payment must stay untouched: %+v", storedPayment)
	}
}

func TestRefundConfirmTwiceReturnsExistingRecord(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_confirm_twice")
	registration, _ := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)

	first, err := svc.Confirm(context.Background(), registration.ID, 1, "")
	if err != nil {
		t.Fatalf("first Confirm error: %v", err)
	}
	if first.Record.Status != constants.RefundStatusSucceeded {
		t.Fatalf("unexpected first record: %+v", first.Record)
	}

	// The registration is cancelled now, so a retry dies on the status check.
	if _, err := svc.Confirm(context.Background(), registration.ID, 0, ""); !errors.Is(err, ErrRegistrationCancelled) {
		t.Fatalf("expected ErrRegistrationCancelled on retry, got %v", err)
	}
	if gateway.refundCalls != 1 {
		t.Fatalf("retry must not call the processor again, got %d calls", gateway.refundCalls)
	}
}

func TestRefundConfirmReturnsSucceededRecordAsAlready(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_confirm_already")
	registration, payment := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)

	// A succeeded record whose registration cancellation never landed, the
	// state the reconcile worker repairs.
	processedAt := time.Now().Add(-time.Hour)
	record := models.RefundRecord{
		Reference:         "ref-existing",
		PaymentID:         payment.ID,
		RegistrationID:    &registration.ID,
		RequestedByUserID: 1,
		Tier:              constants.TierT30Plus,
		Percent:           90,
		BaseCents:         10000,
		RefundCents:       9000,
		EffectiveRefund:   true,
		Status:            constants.RefundStatusSucceeded,
		ExternalRef:       "re_prior",
		RequestedAt:       processedAt,
		ProcessedAt:       &processedAt,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("create record failed: %v", err)
	}

	outcome, err := svc.Confirm(context.Background(), registration.ID, 1, "")
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if !outcome.Already || outcome.Record.ExternalRef != "re_prior" {
		t.Fatalf("expected existing record back, got %+v", outcome)
	}
	if gateway.refundCalls != 0 {
		t.Fatalf("already-refunded confirm must not call the processor, got %d calls", gateway.refundCalls)
	}
}

func TestRefundConfirmTeamPaymentRejected(t *testing.T) {
	svc, _, db := setupRefundServiceTest(t, "refund_confirm_team_guard")
	registration, payment := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)
	groupID := uint(11)
	if err := db.Create(&models.Group{ID: groupID, FormatID: registration.FormatID, Status: constants.GroupStatusActive}).Error; err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).Update("group_id", groupID).Error; err != nil {
		t.Fatalf("attach group failed: %v", err)
	}

	if _, err := svc.Confirm(context.Background(), registration.ID, 1, ""); !errors.Is(err, ErrTeamPayment) {
		t.Fatalf("expected ErrTeamPayment, got %v", err)
	}
}

func TestRefundConfirmNotOwner(t *testing.T) {
	svc, _, db := setupRefundServiceTest(t, "refund_confirm_owner")
	registration, _ := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)

	if _, err := svc.Confirm(context.Background(), registration.ID, 99, ""); !errors.Is(err, ErrNotRegistrationOwner) {
		t.Fatalf("expected ErrNotRegistrationOwner, got %v", err)
	}
}

func TestRefundConfirmProcessorRejectedAllowsRetry(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_confirm_rejected")
	registration, _ := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)

	gateway.refundErr = stripe.ErrRefundRejected
	if _, err := svc.Confirm(context.Background(), registration.ID, 1, ""); !errors.Is(err, ErrProcessorRefundFailed) {
		t.Fatalf("expected ErrProcessorRefundFailed, got %v", err)
	}

	var failed models.RefundRecord
	if err := db.Where("registration_id = ?", registration.ID).First(&failed).Error; err != nil {
		t.Fatalf("load failed record: %v", err)
	}
	if failed.Status != constants.RefundStatusFailed {
		t.Fatalf("expected failed record, got %+v", failed)
	}
	firstKey := gateway.lastRefund.IdempotencyKey

	// A failed attempt does not block a retry, and the retry gets a fresh
	// idempotency key through its new record.
	gateway.refundErr = nil
	outcome, err := svc.Confirm(context.Background(), registration.ID, 1, "")
	if err != nil {
		t.Fatalf("retry Confirm error: %v", err)
	}
	if !outcome.EffectiveRefund {
		t.Fatalf("unexpected retry outcome: %+v", outcome)
	}
	if gateway.lastRefund.IdempotencyKey == firstKey {
		t.Fatalf("retry reused the idempotency key of the failed attempt")
	}
}

func TestRefundConfirmTransportErrorResumesSameKey(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_confirm_transport")
	registration, payment := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)

	// A timeout or connection loss means the refund may have executed at
	// the processor anyway.
	gateway.refundErr = stripe.ErrRequestFailed
	if _, err := svc.Confirm(context.Background(), registration.ID, 1, ""); !errors.Is(err, ErrProcessorUnavailable) {
		t.Fatalf("expected ErrProcessorUnavailable, got %v", err)
	}

	var record models.RefundRecord
	if err := db.Where("registration_id = ?", registration.ID).First(&record).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.Status != constants.RefundStatusRequested {
		t.Fatalf("record status after transport failure = %q, want %q", record.Status, constants.RefundStatusRequested)
	}

	gateway.refundErr = nil
	outcome, err := svc.Confirm(context.Background(), registration.ID, 1, "")
	if err != nil {
		t.Fatalf("retry Confirm error: %v", err)
	}
	if !outcome.EffectiveRefund || outcome.Record.ID != record.ID {
		t.Fatalf("retry must resume the interrupted record: %+v", outcome)
	}
	if gateway.refundCalls != 2 {
		t.Fatalf("expected two processor calls, got %d", gateway.refundCalls)
	}
	if gateway.refundKeys[0] != gateway.refundKeys[1] {
		t.Fatalf("retry must reuse the idempotency key: %q vs %q", gateway.refundKeys[0], gateway.refundKeys[1])
	}

	var count int64
	if err := db.Model(&models.RefundRecord{}).Where("registration_id = ?", registration.ID).Count(&count).Error; err != nil {
		t.Fatalf("count records failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one record across both attempts, got %d", count)
	}
	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 9000 {
		t.Fatalf("refund applied more than once: %+v", storedPayment)
	}
}

func TestRefundConfirmBookkeepingFailureStillSucceeds(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_confirm_bookkeeping")
	registration, payment := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)

	// Break the bookkeeping transaction that follows the processor call.
	gateway.onRefund = func() {
		if err := db.Migrator().DropTable(&models.RegistrationOption{}); err != nil {
			t.Fatalf("drop table failed: %v", err)
		}
	}

	outcome, err := svc.Confirm(context.Background(), registration.ID, 1, "")
	if err != nil {
		t.Fatalf("bookkeeping failure must not surface once money moved: %v", err)
	}
	if !outcome.EffectiveRefund || outcome.Record.ExternalRef != "re_test_1" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	// The local transaction rolled back, the record waits for the
	// reconcile worker.
	var record models.RefundRecord
	if err := db.First(&record, outcome.Record.ID).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.Status != constants.RefundStatusRequested {
		t.Fatalf("stored record = %+v, want requested", record)
	}
	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 0 {
		t.Fatalf("rolled-back payment must stay untouched: %+v", storedPayment)
	}
}

func TestRefundConfirmClampsToAvailable(t *testing.T) {
	svc, gateway, db := setupRefundServiceTest(t, "refund_confirm_clamp")
	registration, payment := seedIndividualPayment(t, db, time.Now().Add(40*24*time.Hour), 10000)
	if err := db.Model(&models.Payment{}).Where("id = ?", payment.ID).
		Updates(map[string]interface{}{
			"refunded_cents": int64(9500),
			"status":         constants.PaymentStatusPartiallyRefunded,
		}).Error; err != nil {
		t.Fatalf("update payment failed: %v", err)
	}

	outcome, err := svc.Confirm(context.Background(), registration.ID, 1, "")
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	// Schedule says 9000 but only 500 cents remain refundable.
	if outcome.Quote.RefundCents != 500 {
		t.Fatalf("expected clamp to 500, got %+v", outcome.Quote)
	}
	if gateway.lastRefund.AmountCents != 500 {
		t.Fatalf("unexpected processor amount: %+v", gateway.lastRefund)
	}

	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 10000 || storedPayment.Status != constants.PaymentStatusRefunded {
		t.Fatalf("unexpected payment state: %+v", storedPayment)
	}
}
