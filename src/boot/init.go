package boot

import (
	"log"
	"rentals/src/booking"
	"rentals/src/config"
	"rentals/src/db"
	"rentals/src/deposit"
	"rentals/src/dispute"
	"rentals/src/ledger"
	"rentals/src/lib"
	"rentals/src/lib/aws"
	"rentals/src/models"
	"rentals/src/payout"
	"rentals/src/policy"
	"time"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// App holds every engine wired to the same database handle and clock.
type App struct {
	Config    config.Config
	DB        *gorm.DB
	Ledger    *ledger.Store
	Policies  *policy.Repository
	Deposits  *deposit.Manager
	Bookings  *booking.Engine
	Disputes  *dispute.Engine
	Payouts   *payout.Aggregator
	Gateway   lib.PaymentGateway
	Catalog   lib.Catalog
	Notifier  lib.Notifier
	Locker    gocron.Locker
	Scheduler gocron.Scheduler
}

func InitDb(cfg config.Config) (*gorm.DB, error) {
	conn, err := db.Open(cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := Migrate(conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// Migrate creates the schema and seeds the default cancellation policies.
func Migrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(models.All()...); err != nil {
		log.Printf("error migration: %s\n", err.Error())
		return err
	}
	return conn.Transaction(policy.SeedDefaults)
}

// NewNotifier publishes to SNS in production, to Kafka when a broker is
// configured and to the log otherwise.
func NewNotifier(cfg config.Config) lib.Notifier {
	if cfg.IsProd() && cfg.SNSTopicArn != "" {
		n, err := aws.NewSNSNotifier(cfg.SNSTopicArn)
		if err == nil {
			return n
		}
		log.Printf("[SNS] falling back: %s\n", err.Error())
	}
	if cfg.KafkaBroker != "" {
		n, err := lib.NewKafkaNotifier(cfg.KafkaBroker, "rentals-api", cfg.NotifyTopic)
		if err == nil {
			return n
		}
		log.Printf("[Kafka] falling back: %s\n", err.Error())
	}
	return lib.LogNotifier{}
}

// NewLocker shares locks through redis when configured, otherwise within
// this process only.
func NewLocker(cfg config.Config) gocron.Locker {
	if cfg.RedisHost == "" {
		return lib.NewLocalLocker()
	}
	client, err := lib.NewRedisClient(cfg.RedisHost)
	if err != nil {
		log.Printf("[redis] using local locks: %s\n", err.Error())
		return lib.NewLocalLocker()
	}
	return lib.NewRedisLocker(client, "rentals:lock:", 10*time.Minute)
}

func NewGateway(cfg config.Config) lib.PaymentGateway {
	return lib.NewStripeGateway(lib.NewStripeClient(cfg.StripeSecretKey))
}

// New wires the engines. now may be nil for the wall clock.
func New(cfg config.Config, conn *gorm.DB, gateway lib.PaymentGateway, catalog lib.Catalog, notifier lib.Notifier, locker gocron.Locker, now func() time.Time) *App {
	store := ledger.NewStore(now)
	deposits := deposit.NewManager(conn, store, gateway, notifier, deposit.Options{
		HoldValidity: cfg.DepositHoldValidity,
	}, now)
	bookings := booking.NewEngine(conn, store, deposits, catalog, gateway, notifier, booking.Options{
		CheckInEarlyWindow: cfg.CheckInEarlyWindow,
		RequestTTL:         cfg.RequestTTL,
		Currency:           cfg.Currency,
	}, now)
	return &App{
		Config:   cfg,
		DB:       conn,
		Ledger:   store,
		Policies: policy.NewRepository(conn, now),
		Deposits: deposits,
		Bookings: bookings,
		Disputes: dispute.NewEngine(conn, store, deposits, bookings, notifier, now),
		Payouts: payout.NewAggregator(conn, store, catalog, gateway, locker, notifier, payout.Options{
			Minimum:      cfg.PayoutMinimum,
			Currency:     cfg.Currency,
			StalledAfter: cfg.StalledAfter,
		}, now),
		Gateway:  gateway,
		Catalog:  catalog,
		Notifier: notifier,
		Locker:   locker,
	}
}

type Sweep struct {
	Name  string
	Every time.Duration
	Run   lib.SweepFunc
}

// Sweeps lists the background jobs that drive time-based transitions and
// retries.
func (a *App) Sweeps() []Sweep {
	every := a.Config.SweepInterval
	return []Sweep{
		{"deposit-expiry", every, a.Deposits.ExpireSweep},
		{"deposit-orphans", every, a.Deposits.ReleaseOrphans},
		{"request-expiry", every, a.Bookings.ExpireStaleRequests},
		{"booking-settlement", every, a.Bookings.SettleSweep},
		{"refund-retry", every, a.Bookings.RetryPendingRefunds},
		{"dispute-escalation", every, a.Disputes.EscalateOverdue},
		{"payout-retry", every, a.Payouts.RetryStalled},
		{"payouts", a.Config.PayoutInterval, a.Payouts.RunOnce},
	}
}

func (a *App) InitScheduler() error {
	sched, err := lib.NewScheduler(a.Locker)
	if err != nil {
		log.Println("An error has occurred. Check logs for info")
		return err
	}
	for _, s := range a.Sweeps() {
		if _, err := lib.CreateCronJob(sched, s.Name, s.Every, s.Run); err != nil {
			return err
		}
	}
	log.Println("Jobs in queue:", len(sched.Jobs()))
	a.Scheduler = sched
	sched.Start()
	return nil
}

func (a *App) StopScheduler() {
	if a.Scheduler == nil {
		return
	}
	if err := a.Scheduler.Shutdown(); err != nil {
		log.Println("An error has occurred while stopping Scheduler. Check logs for info")
	}
}
