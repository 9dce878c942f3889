package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/tickrace/tickrace-sub001/internal/constants"
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/provider"
	"github.com/tickrace/tickrace-sub001/internal/queue"
	"github.com/tickrace/tickrace-sub001/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"
)

func setupReconcileTest(t *testing.T, name string) (*Consumer, *gorm.DB) {
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
	); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	models.DB = db

	container := &provider.Container{
		UserRepo:         repository.NewUserRepository(db),
		RegistrationRepo: repository.NewRegistrationRepository(db),
		GroupRepo:        repository.NewGroupRepository(db),
		PaymentRepo:      repository.NewPaymentRepository(db),
		RefundRecordRepo: repository.NewRefundRecordRepository(db),
		OptionRepo:       repository.NewOptionRepository(db),
		CourseRepo:       repository.NewCourseRepository(db),
	}
	return NewConsumer(container), db
}

func reconcileTask(t *testing.T, payload queue.RefundReconcilePayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}
	return asynq.NewTask(queue.TaskRefundReconcile, data)
}

// seedInterruptedRefund builds the state the reconcile task repairs: the
// processor accepted the refund but the local bookkeeping never landed.
func seedInterruptedRefund(t *testing.T, db *gorm.DB) (*models.Registration, *models.Payment, *models.RefundRecord) {
	t.Helper()
	userID := uint(1)
	if err := db.Create(&models.User{ID: userID, Email: "runner@example.com"}).Error; err != nil {
		t.Fatalf("create user failed: %v", err)
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
	if err := db.Create(&models.RegistrationOption{RegistrationID: registration.ID, OptionID: 3, Label: "Bus shuttle", Quantity: 1, UnitPriceCents: 800, Status: constants.OptionStatusConfirmed}).Error; err != nil {
		t.Fatalf("create option line failed: %v", err)
	}
	confirmedAt := time.Now().Add(-72 * time.Hour)
	payment := models.Payment{
		ID:             1,
		CourseID:       1,
		RegistrationID: &registration.ID,
		GrossCents:     10000,
		Status:         constants.PaymentStatusConfirmed,
		ChargeRef:      "ch_test_1",
		ConfirmedAt:    &confirmedAt,
	}
	if err := db.Create(&payment).Error; err != nil {
		t.Fatalf("create payment failed: %v", err)
	}
	record := models.RefundRecord{
		Reference:         "ref-interrupted",
		PaymentID:         payment.ID,
		RegistrationID:    &registration.ID,
		RequestedByUserID: userID,
		Tier:              constants.TierT30Plus,
		Percent:           90,
		BaseCents:         10000,
		RefundCents:       9000,
		EffectiveRefund:   true,
		Status:            constants.RefundStatusRequested,
		RequestedAt:       time.Now().Add(-time.Minute),
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("create record failed: %v", err)
	}
	return &registration, &payment, &record
}

func TestRefundReconcileRepairsBookkeeping(t *testing.T) {
	consumer, db := setupReconcileTest(t, "reconcile_repair")
	registration, payment, record := seedInterruptedRefund(t, db)

	task := reconcileTask(t, queue.RefundReconcilePayload{
		RefundRecordID: record.ID,
		ExternalRef:    "re_repair_1",
	})
	if err := consumer.handleRefundReconcile(context.Background(), task); err != nil {
		t.Fatalf("reconcile error: %v", err)
	}

	var storedRecord models.RefundRecord
	if err := db.First(&storedRecord, record.ID).Error; err != nil {
		t.Fatalf("load record failed: %v", err)
	}
	if storedRecord.Status != constants.RefundStatusSucceeded || storedRecord.ExternalRef != "re_repair_1" {
		t.Fatalf("record not repaired: %+v", storedRecord)
	}
	if storedRecord.ProcessedAt == nil {
		t.Fatalf("record missing processed timestamp: %+v", storedRecord)
	}

	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 9000 || storedPayment.Status != constants.PaymentStatusPartiallyRefunded {
		t.Fatalf("payment not repaired: %+v", storedPayment)
	}

	var storedRegistration models.Registration
	if err := db.First(&storedRegistration, registration.ID).Error; err != nil {
		t.Fatalf("load registration failed: %v", err)
	}
	if storedRegistration.Status != constants.RegistrationStatusCancelled {
		t.Fatalf("registration not cancelled: %+v", storedRegistration)
	}

	var storedOption models.RegistrationOption
	if err := db.Where("registration_id = ?", registration.ID).First(&storedOption).Error; err != nil {
		t.Fatalf("load option failed: %v", err)
	}
	if storedOption.Status != constants.OptionStatusCancelled {
		t.Fatalf("option not cancelled: %+v", storedOption)
	}
}

func TestRefundReconcileRunsOnce(t *testing.T) {
	consumer, db := setupReconcileTest(t, "reconcile_once")
	_, payment, record := seedInterruptedRefund(t, db)

	task := reconcileTask(t, queue.RefundReconcilePayload{
		RefundRecordID: record.ID,
		ExternalRef:    "re_repair_1",
	})
	if err := consumer.handleRefundReconcile(context.Background(), task); err != nil {
		t.Fatalf("first reconcile error: %v", err)
	}
	// Redelivery of the same task must not move money again.
	if err := consumer.handleRefundReconcile(context.Background(), task); err != nil {
		t.Fatalf("second reconcile error: %v", err)
	}

	var storedPayment models.Payment
	if err := db.First(&storedPayment, payment.ID).Error; err != nil {
		t.Fatalf("load payment failed: %v", err)
	}
	if storedPayment.RefundedCents != 9000 {
		t.Fatalf("refund applied more than once: %+v", storedPayment)
	}
}

func TestRefundReconcileSkipsMissingRecord(t *testing.T) {
	consumer, _ := setupReconcileTest(t, "reconcile_missing")

	task := reconcileTask(t, queue.RefundReconcilePayload{RefundRecordID: 99, ExternalRef: "re_none"})
	if err := consumer.handleRefundReconcile(context.Background(), task); err != nil {
		t.Fatalf("missing record must not error: %v", err)
	}
}
