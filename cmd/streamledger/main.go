package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/streamledger/internal/auth"
	"github.com/MarcoPoloResearchLab/streamledger/internal/config"
	"github.com/MarcoPoloResearchLab/streamledger/internal/database"
	"github.com/MarcoPoloResearchLab/streamledger/internal/ledger"
	"github.com/MarcoPoloResearchLab/streamledger/internal/logging"
	"github.com/MarcoPoloResearchLab/streamledger/internal/platform"
	"github.com/MarcoPoloResearchLab/streamledger/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "streamledger",
		Short: "Content distribution ledger node",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newMigrateCommand(), newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("ledger-path", defaults.GetString("ledger.path"), "LevelDB block store path")
	cmd.PersistentFlags().Duration("block-interval", defaults.GetDuration("ledger.block_interval"), "Interval between sealed blocks")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Identity token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().String("genesis-owner", "", "Platform owner seeded on first start")
	cmd.PersistentFlags().Uint64("genesis-fee", defaults.GetUint64("platform.genesis_fee"), "Platform fee percent seeded on first start")
	cmd.PersistentFlags().Bool("diagnostics", false, "Enable the privileged subscriber-count override")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "ledger.path", "ledger-path")
	bindFlag(cmd, "ledger.block_interval", "block-interval")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "platform.genesis_owner", "genesis-owner")
	bindFlag(cmd, "platform.genesis_fee", "genesis-fee")
	bindFlag(cmd, "diagnostics.enabled", "diagnostics")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger schema and apply pending data migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.NewLogger(viper.GetString("log.level"))
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			db, err := database.OpenSQLite(viper.GetString("database.path"), logger)
			if err != nil {
				return err
			}
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func newTokenCommand() *cobra.Command {
	var identity string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an identity token signed with the configured secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			subject, err := platform.NewIdentity(identity)
			if err != nil {
				return err
			}
			tokenManager, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := tokenManager.IssueToken(subject)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires_in=%d\n", token, expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "Ledger identity to embed as the token subject")
	_ = cmd.MarkFlagRequired("identity")
	return cmd
}

func newTokenIssuer(appConfig config.AppConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	chain, err := ledger.Open(appConfig.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer chain.Close()

	tokenManager, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	metrics := server.NewMetrics()

	platformService, err := platform.NewService(platform.ServiceConfig{
		Database:     db,
		Heights:      chain,
		IDProvider:   platform.NewUUIDProvider(),
		Logger:       logger,
		GenesisOwner: platform.Identity(appConfig.GenesisOwner),
		GenesisFee:   appConfig.GenesisFee,
		Diagnostics:  appConfig.DiagnosticsEnabled,
		Observers:    []platform.TransactionObserver{chain, realtime, metrics},
	})
	if err != nil {
		return err
	}
	if appConfig.DiagnosticsEnabled {
		logger.Warn("diagnostics override enabled")
	}
	if _, err := chain.Recover(ctx, platformService); err != nil {
		return err
	}

	producer, err := ledger.NewProducer(ledger.ProducerConfig{
		Miner:      chain,
		Interval:   appConfig.BlockInterval,
		Logger:     logger,
		OnBlock:    metrics.ObserveBlock,
		Serializer: platformService,
	})
	if err != nil {
		return err
	}
	metrics.ObserveBlock(chain.Head())

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Platform:     platformService,
		TokenManager: tokenManager,
		Chain:        chain,
		Realtime:     realtime,
		Metrics:      metrics,
		RateLimit: server.RateLimitConfig{
			RequestsPerSecond: appConfig.RequestsPerSecond,
			Burst:             appConfig.RateLimitBurst,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The producer outlives the HTTP server so its final block covers
	// every transaction accepted before shutdown.
	producerCtx, stopProducer := context.WithCancel(context.Background())
	defer stopProducer()
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		producer.Run(producerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Uint64("height", chain.Head().Height))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		runErr = httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		runErr = err
		stop()
	}
	stopProducer()
	<-producerDone
	return runErr
}
