package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/payment/stripe"
	"github.com/tickrace/tickrace-sub001/internal/repository"

	"gorm.io/gorm"
)

func setupTeamRefundServiceTest(t *testing.T, name string) (*TeamRefundService, *fakeGateway, *gorm.DB) {
	t.Helper()
	db := openSettlementTestDB(t, name)
	gateway := &fakeGateway{}
	svc := NewTeamRefundService(
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

// seedTeamPayment creates a group of three members covered by one payment,
// captained by user 1.
func seedTeamPayment(t *testing.T, db *gorm.DB, eventDate time.Time, grossCents int64) (*models.Group, *models.Payment, []models.Registration) {
	t.Helper()
	captainID := uint(1)
	if err := db.Create(&models.User{ID: captainID, Email: "captain@example.com"}).Error; err != nil {
		t.Fatalf("create captain failed: %v", err)
	}
	if err := db.Create(&models.Organizer{ID: 1, Name: "Trail Org", Email: "org@example.com"}).Error; err != nil {
		t.Fatalf("create organizer failed: %v", err)
	}
	if err := db.Create(&models.Course{ID: 1, OrganizerID: 1, Name: "Relais des Crêtes"}).Error; err != nil {
		t.Fatalf("create course failed: %v", err)
	}
	if err := db.Create(&models.Format{ID: 1, CourseID: 1, Name: "Relay", EventDate: eventDate, PriceCents: grossCents}).Error; err != nil {
		t.Fatalf("create format failed: %v", err)
	}
	group := models.Group{
		ID:            1,
		FormatID:      1,
		CaptainUserID: &captainID,
		Name:          "Les Chamois",
		Status:        constants.GroupStatusActive,
	}
	if err := db.Create(&group).Error; err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	members := make([]models.Registration, 0, 3)
	for i := uint(1); i <= 3; i++ {
		member := models.Registration{
			ID:       i,
			FormatID: 1,
			GroupID:  &group.ID,
			Email:    "member@example.com",
			Status:   constants.RegistrationStatusActive,
		}
		if i == 1 {
			member.UserID = &captainID
		}
		if err := db.Create(&member).Error; err != nil {
			t.Fatalf("create member failed: %v", err)
		}
		members = append(members, member)
	}
	confirmedAt := time.Now().Add(-48 * time.Hour)
	payment := models.Payment{
		ID:               1,
		CourseID:         1,
		PayerUserID:      &captainID,
		GroupID:          &group.ID,
		RegistrationIDs:  models.UintArray{1, 2, 3},
		GrossCents:       grossCents,
		PlatformFeeCents: 600,
		Status:           constants.PaymentStatusConfirmed,
		ChargeRef:        "ch_team_1",
		ConfirmedAt:      &confirmedAt,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	if err := db.Model(&models.Group{}).Where("id = ?", group.ID).Update("payment_id", payment.ID).Error; err != nil {
		t.Fatalf("attach payment failed: %v", err)
	}
	group.PaymentID = &payment.ID
	return &group, &payment, members
}

func TestTeamRefundConfirmCancelsWholeGroup(t *testing.T) {
	svc, gateway, db := setupTeamRefundServiceTest(t, "team_refund_confirm")
	group, payment, members := seedTeamPayment(t, db, time.Now().Add(40*24*time.Hour), 30000)
	if err := db.Create(&models.RegistrationOption{RegistrationID: members[1].ID, OptionID: 5, Label: "Pasta party", Quantity: 2, UnitPriceCents: 1200, Status: constants.OptionStatusConfirmed}).Error; err != nil {
		t.Fatalf("create option line failed: %v", err)
	}

	outcome, err := svc.Confirm(context.Background(), group.ID, 1, "team withdrew")
	if err != nil {
		t.Fatalf("Confirm error: %v", err)
	}
	if outcome.Quote.Tier != constants.TierT30Plus || outcome.Quote.RefundCents != 27000 {
		t.Fatalf("unexpected quote: %+v", outcome.Quote)
	}
	if outcome.Quote.MemberCount != 3 || outcome.CancelledMembers != 3 {
		t.Fatalf("unexpected member counts: %+v", outcome)
	}
	if gateway.refundCalls != 1 || gateway.lastRefund.AmountCents != 27000 {
		t.Fatalf("unexpected processor call: calls=%d input=%+v", gateway.refundCalls, gateway.lastRefund)
	}

	var storedGroup models.Group
	if err := db.First(&storedGroup, group.ID).Error; err != nil {
		t.Fatalf("load group failed: %v", err)
	}
	if storedGroup.Status != constants.GroupStatusCancelled || storedGroup.CancelledAt == nil {
		t.Fatalf("group not cancelled: %+v", storedGroup)
	}

	var activeMembers int64
	if err := db.Model(&models.Registration{}).
		Where("group_id = ? AND status = ?", group.ID, constants.RegistrationStatusActive).
		Count(&activeMembers).Error; err != nil {
		t.Fatalf("count members failed: %v", err)
	}
	if activeMembers != 0 {
		t.Fatalf("expected every member cancelled, %d still active", activeMembers)
	}

	var storedOption models.RegistrationOption
	if err := db.Where("registration_id = ?", members[1].ID).First(&storedOption).Error; err != nil {
		t.Fatalf("load option failed: %v", err)
	}
	if storedOption.Status != constants.OptionStatusCancelled {
		t.Fatalf("option not cancelled: %+v", storedOption)
	}

	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 27000 || storedPayment.Status != constants.PaymentStatusPartiallyRefunded {
		t.Fatalf("unexpected payment state: %+v", storedPayment)
	}
}

func TestTeamRefundZeroPercentRejected(t *testing.T) {
	svc, gateway, db := setupTeamRefundServiceTest(t, "team_refund_t0")
	group, _, _ := seedTeamPayment(t, db, time.Now().Add(24*time.Hour), 30000)

	if _, err := svc.Confirm(context.Background(), group.ID, 1, ""); !errors.Is(err, ErrNoRefundAllowed) {
		t.Fatalf("expected ErrNoRefundAllowed, got %v", err)
	}
	if gateway.refundCalls != 0 {
		t.Fatalf("rejected confirm must not call the processor, got %d calls", gateway.refundCalls)
	}

	// Nothing changed: no record, group and members stay active.
	var records int64
	if err := db.Model(&models.RefundRecord{}).Count(&records).Error; err != nil {
		t.Fatalf("count records failed: %v", err)
	}
	if records != 0 {
		t.Fatalf("expected no refund record, got %d", records)
	}
	var storedGroup models.Group
	if err := db.First(&storedGroup, group.ID).Error; err != nil {
		t.Fatalf("load group failed: %v", err)
	}
	if storedGroup.Status != constants.GroupStatusActive {
		t.Fatalf("group must stay active: %+v", storedGroup)
	}
}

func TestTeamRefundTransportErrorResumesSameKey(t *testing.T) {
	svc, gateway, db := setupTeamRefundServiceTest(t, "team_refund_transport")
	group, payment, _ := seedTeamPayment(t, db, time.Now().Add(40*24*time.Hour), 30000)

	gateway.refundErr = stripe.ErrRequestFailed
	if _, err := svc.Confirm(context.Background(), group.ID, 1, ""); !errors.Is(err, ErrProcessorUnavailable) {
		t.Fatalf("expected ErrProcessorUnavailable, got %v", err)
	}

	var record models.RefundRecord
	if err := db.Where("group_id = ?", group.ID).First(&record).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if record.Status != constants.RefundStatusRequested {
		t.Fatalf("record status after transport failure = %q, want %q", record.Status, constants.RefundStatusRequested)
	}

	gateway.refundErr = nil
	outcome, err := svc.Confirm(context.Background(), group.ID, 1, "")
	if err != nil {
		t.Fatalf("retry Confirm error: %v", err)
	}
	if outcome.Record.ID != record.ID {
		t.Fatalf("retry must resume the interrupted record: %+v", outcome)
	}
	if gateway.refundCalls != 2 || gateway.refundKeys[0] != gateway.refundKeys[1] {
		t.Fatalf("retry must reuse the idempotency key: calls=%d keys=%v", gateway.refundCalls, gateway.refundKeys)
	}
	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 27000 {
		t.Fatalf("refund applied more than once: %+v", storedPayment)
	}
}

func TestTeamRefundNonCaptainRejected(t *testing.T) {
	svc, _, db := setupTeamRefundServiceTest(t, "team_refund_captain")
	group, _, _ := seedTeamPayment(t, db, time.Now().Add(40*24*time.Hour), 30000)

	if _, err := svc.Quote(context.Background(), group.ID, 42); !errors.Is(err, ErrNotRegistrationOwner) {
		t.Fatalf("expected ErrNotRegistrationOwner, got %v", err)
	}
}

func TestTeamRefundQuoteCountsMembers(t *testing.T) {
	svc, _, db := setupTeamRefundServiceTest(t, "team_refund_quote")
	group, _, _ := seedTeamPayment(t, db, time.Now().Add(20*24*time.Hour), 30000)

	quote, err := svc.Quote(context.Background(), group.ID, 1)
	if err != nil {
		t.Fatalf("Quote error: %v", err)
	}
	if quote.Tier != constants.TierT15 || quote.RefundCents != 21000 {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	if quote.MemberCount != 3 {
		t.Fatalf("unexpected member count: %+v", quote)
	}
}
