package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/upline/internal/accounts"
	"github.com/MarkoPoloResearchLab/upline/internal/accrual"
	"github.com/MarkoPoloResearchLab/upline/internal/commission"
	"github.com/MarkoPoloResearchLab/upline/internal/events"
	eventskafka "github.com/MarkoPoloResearchLab/upline/internal/events/kafka"
	"github.com/MarkoPoloResearchLab/upline/internal/httpapi"
	"github.com/MarkoPoloResearchLab/upline/internal/plans"
	"github.com/MarkoPoloResearchLab/upline/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/upline/pkg/ledger"
	"github.com/MarkoPoloResearchLab/upline/pkg/tree"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagCronSpec         = "accrual-cron"
	flagKafkaBrokers     = "kafka-brokers"
	flagAllowedOrigins   = "allowed-origins"
	configKeyDatabaseURL = "database_url"
	configKeyListenAddr  = "listen_addr"
	configKeyCronSpec    = "accrual_cron"
	configKeyBrokers     = "kafka_brokers"
	configKeyOrigins     = "allowed_origins"
	defaultDatabaseURL   = "sqlite:///tmp/upline.db"
	defaultListenAddr    = ":8080"
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	CronSpec       string
	KafkaBrokers   []string
	AllowedOrigins []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "uplined: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "uplined",
		Short:         "Referral compensation engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagCronSpec, accrual.DefaultCronSpec, "cron expression for the accrual pass")
	cmd.Flags().StringSlice(flagKafkaBrokers, nil, "Kafka broker addresses for purchase events (empty disables publishing)")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins (empty disables CORS)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := []struct {
		configKey string
		envName   string
		flagName  string
	}{
		{configKeyDatabaseURL, "DATABASE_URL", flagDatabaseURL},
		{configKeyListenAddr, "LISTEN_ADDR", flagListenAddr},
		{configKeyCronSpec, "ACCRUAL_CRON", flagCronSpec},
		{configKeyBrokers, "KAFKA_BROKERS", flagKafkaBrokers},
		{configKeyOrigins, "ALLOWED_ORIGINS", flagAllowedOrigins},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.configKey, binding.envName); err != nil {
			return err
		}
		if err := viper.BindPFlag(binding.configKey, cmd.Flags().Lookup(binding.flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.CronSpec = viper.GetString(configKeyCronSpec)
	if cfg.CronSpec == "" {
		cfg.CronSpec = accrual.DefaultCronSpec
	}
	cfg.KafkaBrokers = viper.GetStringSlice(configKeyBrokers)
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyOrigins)
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() time.Time { return time.Now().UTC() }

	ledgerService, err := ledger.NewService(store, func() int64 { return clock().Unix() },
		ledger.WithOperationLogger(&zapOperationLogger{logger: logger}))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	treeService, err := tree.NewService(store)
	if err != nil {
		return fmt.Errorf("tree service init: %w", err)
	}
	if _, err := commission.EnsureDefaultSchedule(ctx, store); err != nil {
		return fmt.Errorf("commission schedule bootstrap: %w", err)
	}
	engine, err := commission.NewEngine(ledgerService, treeService, store, logger)
	if err != nil {
		return fmt.Errorf("commission engine init: %w", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := eventskafka.NewPublisher(cfg.KafkaBrokers)
		defer func() { _ = kafkaPublisher.Close() }()
		publisher = kafkaPublisher
	}

	planService, err := plans.NewService(store, ledgerService, engine, publisher, clock, logger)
	if err != nil {
		return fmt.Errorf("plan service init: %w", err)
	}
	accountService, err := accounts.NewService(store, ledgerService, treeService, clock, logger)
	if err != nil {
		return fmt.Errorf("account service init: %w", err)
	}
	scheduler, err := accrual.NewScheduler(ledgerService, store, clock, logger)
	if err != nil {
		return fmt.Errorf("accrual scheduler init: %w", err)
	}
	if err := scheduler.Start(cfg.CronSpec); err != nil {
		return fmt.Errorf("accrual scheduler start: %w", err)
	}
	defer scheduler.Stop()

	return httpapi.Run(ctx, httpapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, httpapi.Services{
		Accounts:  accountService,
		Plans:     planService,
		Ledger:    ledgerService,
		Tree:      treeService,
		Accrual:   scheduler,
		Schedules: store,
	}, logger)
}

type zapOperationLogger struct {
	logger *zap.Logger
}

func (operationLogger *zapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("account_id", entry.AccountID),
		zap.String("category", string(entry.Category)),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("reference", entry.Reference),
		zap.String("status", entry.Status),
	}
	if entry.Error != nil {
		operationLogger.logger.Warn("ledger operation", append(fields, zap.Error(entry.Error))...)
		return
	}
	operationLogger.logger.Info("ledger operation", fields...)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "upline.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
