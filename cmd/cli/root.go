package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/qrgate/internal/application"
	"github.com/turtacn/qrgate/internal/config"
	domainservice "github.com/turtacn/qrgate/internal/domain/service"
	"github.com/turtacn/qrgate/internal/infrastructure/audit"
	"github.com/turtacn/qrgate/internal/infrastructure/cache"
	"github.com/turtacn/qrgate/internal/infrastructure/kms"
	"github.com/turtacn/qrgate/internal/infrastructure/monitoring"
	"github.com/turtacn/qrgate/internal/infrastructure/persistence/postgres"
	"github.com/turtacn/qrgate/internal/infrastructure/render"
	"github.com/turtacn/qrgate/internal/infrastructure/storage"
	"github.com/turtacn/qrgate/pkg/logger"
)

// admin holds the lazily built service stack shared by every subcommand.
// admin 保存所有子命令共享的延迟构建的服务栈。
type admin struct {
	configFile string
	out        io.Writer

	cfg     *config.Config
	log     logger.Logger
	closers []func() error

	audit  *audit.GormAuditService
	gyms   *cache.GymDirectory
	keys   *application.KeyStore
	signer *domainservice.TokenSigner
	batch  *application.BatchGenerator
}

// NewRootCmd builds the `qr-admin` command tree.
// NewRootCmd 构建 `qr-admin` 命令树。
func NewRootCmd() *cobra.Command {
	root, _ := newRoot()
	return root
}

func newRoot() (*cobra.Command, *admin) {
	a := &admin{}
	root := &cobra.Command{
		Use:   "qr-admin",
		Short: "Operations CLI for the qrgate static QR service.",
		Long: `qr-admin performs administrative tasks directly against the qrgate
database: rotating and revoking gym QR keys, running batch asset
generation, seeding gyms and minting admin tokens.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.out = cmd.OutOrStdout()
		},
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "path to the configuration file")

	root.AddCommand(
		newRotateCmd(a),
		newRevokeCmd(a),
		newSweepCmd(a),
		newVerifyCmd(a),
		newBatchCmd(a),
		newGymCmd(a),
		newAuditCmd(a),
		newTokenCmd(a),
	)
	return root, a
}

// Execute is the main entry point for the CLI application.
// Execute 是 CLI 应用程序的主入口点。
func Execute() {
	root, a := newRoot()
	err := root.Execute()
	if cerr := a.close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *admin) config() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}
	startup, err := monitoring.NewZapLogger(&config.LogConfig{Level: "warn", Format: "console"})
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(a.configFile, startup)
	if err != nil {
		return nil, err
	}
	// CLI output goes to stdout, keep the log quiet unless asked otherwise.
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	log, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		return nil, err
	}
	a.cfg, a.log = cfg, log
	return cfg, nil
}

// stack opens the database and builds the key store. Redis is not needed by
// any admin command.
func (a *admin) stack(ctx context.Context) error {
	if a.keys != nil {
		return nil
	}
	cfg, err := a.config()
	if err != nil {
		return err
	}

	db, err := postgres.NewDBConnection(ctx, &cfg.Database, a.log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, db.Close)

	sealer, err := kms.NewSealerFromConfig(ctx, &cfg.Vault, a.log)
	if err != nil {
		return err
	}

	a.audit = audit.NewGormAuditService(db.DB())
	sinks := []domainservice.AuditService{a.audit}
	if cfg.Kafka.Enabled {
		producer := audit.NewKafkaProducer(cfg.Kafka, a.log)
		a.closers = append(a.closers, producer.Close)
		sinks = append(sinks, producer)
	}
	auditSink := audit.NewMultiSink(a.log, sinks...)

	metrics := domainservice.NoopMetrics{}
	a.gyms = cache.NewGymDirectory(postgres.NewGymRepository(db.DB()), cfg.QR.GymCacheTTL, metrics)
	a.keys = application.NewKeyStore(postgres.NewQRKeyRepository(db.DB()), sealer, auditSink, metrics,
		application.KeyStoreConfig{KeyMaxAge: cfg.QR.KeyMaxAge, GraceWindow: cfg.QR.TokenTTL}, a.log)
	a.signer = domainservice.NewTokenSigner(cfg.QR.TokenTTL, cfg.QR.DeepLinkScheme)

	assets, err := storage.NewAssetStore(&cfg.Assets, a.log)
	if err != nil {
		return err
	}
	a.batch = application.NewBatchGenerator(postgres.NewBatchJobRepository(db.DB()), a.gyms, a.keys,
		render.NewQRRenderer(cfg.Assets.PNGSize), assets, storage.ZipPackager{}, auditSink, metrics,
		cfg.QR.BaseURL, a.log)
	return nil
}

func (a *admin) close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// print writes v as indented JSON.
func (a *admin) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
