package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hms/billing/internal/config"
	"github.com/hms/billing/internal/domain/billing"
	"github.com/hms/billing/internal/platform/auth"
	"github.com/hms/billing/internal/platform/db"
	"github.com/hms/billing/internal/platform/events"
	"github.com/hms/billing/internal/platform/middleware"
	"github.com/hms/billing/migrations"
)

const apiPrefix = "/api/v1/billing"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "billing-server",
		Short:        "Hospital billing ledger API server",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(pricingCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the billing API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Running migrations (%s)\n", cfg.Env)
			count, err := db.NewMigrator(pool, migrations.FS).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func pricingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Manage service pricing",
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the default price list into a hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			hospitalID, _ := cmd.Flags().GetString("hospital")

			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			if hospitalID == "" {
				hospitalID = cfg.DefaultHospital
			}
			policy := auth.NewPolicyEngine(auth.DefaultRules())
			svc := newService(pool, policy, events.NopPublisher{}, newLogger(cfg), cfg.Location())
			created, err := svc.SeedPricing(cmd.Context(), hospitalID)
			if err != nil {
				return err
			}
			if created == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Hospital %s already has pricing, nothing to do.\n", hospitalID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d pricing entries for hospital %s.\n", created, hospitalID)
			return nil
		},
	}
	seedCmd.Flags().String("hospital", "", "Hospital to seed (defaults to DEFAULT_HOSPITAL)")
	cmd.AddCommand(seedCmd)

	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newService(pool *pgxpool.Pool, policy *auth.PolicyEngine, pub events.Publisher, logger zerolog.Logger, loc *time.Location) *billing.Service {
	repos := billing.Repositories{
		Pricing:  billing.NewPricingRepoPG(pool),
		Bills:    billing.NewBillRepoPG(pool),
		Payments: billing.NewPaymentRepoPG(pool),
		Receipts: billing.NewReceiptRepoPG(pool),
		Audit:    billing.NewAuditRepoPG(pool),
		Sequence: billing.NewSequenceRepoPG(pool),
		Reports:  billing.NewReportRepoPG(pool),
	}
	return billing.NewService(repos, db.NewTxManager(pool), policy,
		billing.WithPublisher(pub),
		billing.WithLogger(logger),
		billing.WithLocation(loc),
	)
}

// newServer builds the echo instance with global middleware, the health
// endpoint and the authenticated billing API.
func newServer(cfg *config.Config, logger zerolog.Logger, handler *billing.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Hospital-ID", auth.DevRoleHeader},
	}))
	e.Use(echomw.BodyLimit("1M"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	api := e.Group(apiPrefix)
	if cfg.IsDev() {
		api.Use(auth.DevAuthMiddleware())
	} else {
		api.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	api.Use(auth.RequireAuthenticated())
	api.Use(db.HospitalMiddleware(cfg.DefaultHospital))
	handler.RegisterRoutes(api)

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.RedisURL != "" {
		rp, client, err := events.NewRedisPublisher(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, billing events disabled")
		} else {
			defer client.Close()
			publisher = rp
			logger.Info().Msg("publishing billing events to redis")
		}
	}

	loc := cfg.Location()
	policy := auth.NewPolicyEngine(auth.DefaultRules())
	svc := newService(pool, policy, publisher, logger, loc)
	handler := billing.NewHandler(svc, policy, loc)

	e := newServer(cfg, logger, handler)
	e.GET("/health/db", db.HealthHandler(pool))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("report_timezone", loc.String()).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
