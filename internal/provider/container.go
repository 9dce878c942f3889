package provider

import (
	"github.com/tickrace/tickrace-sub001/internal/cache"
	"github.com/tickrace/tickrace-sub001/internal/config"
	"github.com/tickrace/tickrace-sub001/internal/logger"
	"github.com/tickrace/tickrace-sub001/internal/models"
	"github.com/tickrace/tickrace-sub001/internal/payment/stripe"
	"github.com/tickrace/tickrace-sub001/internal/queue"
	"github.com/tickrace/tickrace-sub001/internal/repository"
	"github.com/tickrace/tickrace-sub001/internal/service"
)

// Container wires repositories and services together.
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	UserRepo         repository.UserRepository
	RegistrationRepo repository.RegistrationRepository
	GroupRepo        repository.GroupRepository
	PaymentRepo      repository.PaymentRepository
	RefundRecordRepo repository.RefundRecordRepository
	OptionRepo       repository.OptionRepository
	CourseRepo       repository.CourseRepository
	LedgerRepo       repository.LedgerRepository
	InvoiceRepo      repository.InvoiceRepository

	// Services
	CredentialService *service.CredentialService
	EmailService      *service.EmailService
	RefundService     *service.RefundService
	TeamRefundService *service.TeamRefundService
	FeeSyncService    *service.FeeSyncService
	LedgerService     *service.LedgerService
	InvoiceService    *service.InvoiceService
}

// NewContainer initializes the container.
func NewContainer(cfg *config.Config) *Container {
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	var queueClient *queue.Client
	qc, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
	} else {
		queueClient = qc
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	c.initRepositories()
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.UserRepo = repository.NewUserRepository(db)
	c.RegistrationRepo = repository.NewRegistrationRepository(db)
	c.GroupRepo = repository.NewGroupRepository(db)
	c.PaymentRepo = repository.NewPaymentRepository(db)
	c.RefundRecordRepo = repository.NewRefundRecordRepository(db)
	c.OptionRepo = repository.NewOptionRepository(db)
	c.CourseRepo = repository.NewCourseRepository(db)
	c.LedgerRepo = repository.NewLedgerRepository(db)
	c.InvoiceRepo = repository.NewInvoiceRepository(db)
}

func (c *Container) initServices() {
	secretKey := c.Config.Processor.SecretKey
	if secretKey == "" {
		logger.Warnw("provider_processor_secret_missing", "fallback", "test_key")
		secretKey = "sk_test_unconfigured"
	}
	gateway, err := stripe.NewClient(stripe.Config{
		SecretKey:  secretKey,
		APIBaseURL: c.Config.Processor.APIBaseURL,
		TimeoutMS:  c.Config.Processor.TimeoutMS,
	})
	if err != nil {
		logger.Errorw("provider_init_processor_failed", "error", err)
		panic(err)
	}

	c.CredentialService = service.NewCredentialService(c.Config.Auth.UserJWTSecret, c.Config.Auth.ServiceSecret)
	c.EmailService = service.NewEmailService(&c.Config.Email)
	c.RefundService = service.NewRefundService(c.RegistrationRepo, c.GroupRepo, c.PaymentRepo, c.RefundRecordRepo, c.OptionRepo, c.CourseRepo, gateway, c.QueueClient)
	c.TeamRefundService = service.NewTeamRefundService(c.RegistrationRepo, c.GroupRepo, c.PaymentRepo, c.RefundRecordRepo, c.OptionRepo, c.CourseRepo, gateway, c.QueueClient)
	c.FeeSyncService = service.NewFeeSyncService(c.PaymentRepo, c.OptionRepo, c.LedgerRepo, gateway)
	c.LedgerService = service.NewLedgerService(c.CourseRepo, c.LedgerRepo)
	c.InvoiceService = service.NewInvoiceService(c.CourseRepo, c.LedgerRepo, c.InvoiceRepo, c.QueueClient, c.Config.Billing)
}
