package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/patientregistry/internal/client"
	"github.com/ehr/patientregistry/internal/config"
	"github.com/ehr/patientregistry/internal/domain/patient"
	"github.com/ehr/patientregistry/internal/platform/db"
	"github.com/ehr/patientregistry/internal/platform/middleware"
)

const version = "1.0.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "patient-server",
		Short: "Patient registry API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(initDBCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the patient registry API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all patients from the configured store to an XLSX file",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			svc := patient.NewService(store, logger)
			if err := writeExport(ctx, svc, out); err != nil {
				return err
			}
			logger.Info().Str("file", out).Msg("export written")
			return nil
		},
	}
	cmd.Flags().String("out", "patients.xlsx", "Path of the XLSX file to write")
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print patient statistics from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := remoteClient(cmd).Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	remoteFlags(cmd)
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List patients from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			patients, err := remoteClient(cmd).List(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, patients)
		},
	}
	remoteFlags(cmd)
	return cmd
}

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one patient from a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := remoteClient(cmd).Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
	remoteFlags(cmd)
	return cmd
}

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a patient through a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var in patient.Input
			in.ID, _ = flags.GetString("id")
			in.Name, _ = flags.GetString("name")
			in.City, _ = flags.GetString("city")
			in.Age, _ = flags.GetInt("age")
			gender, _ := flags.GetString("gender")
			in.Gender = patient.Gender(gender)
			in.Height, _ = flags.GetFloat64("height")
			in.Weight, _ = flags.GetFloat64("weight")

			p, err := remoteClient(cmd).Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
	cmd.Flags().String("id", "", "Patient id (assigned by the server when empty)")
	cmd.Flags().String("name", "", "Patient name")
	cmd.Flags().String("city", "", "City")
	cmd.Flags().Int("age", 0, "Age in years")
	cmd.Flags().String("gender", "", "male, female or other")
	cmd.Flags().Float64("height", 0, "Height in meters")
	cmd.Flags().Float64("weight", 0, "Weight in kilograms")
	remoteFlags(cmd)
	return cmd
}

func remoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "http://localhost:8000", "Base URL of the patient registry server")
	cmd.Flags().Duration("timeout", 10*time.Second, "Request timeout")
}

func remoteClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return client.New(server, timeout)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the Postgres table used by the postgres store backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.EnsureSchema(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "patient_document table ready.")
			return nil
		},
	}
}

// writeExport writes the workbook next to out and renames it into place, so a
// failed export never leaves a partial file at out.
func writeExport(ctx context.Context, svc *patient.Service, out string) error {
	tmp, err := os.CreateTemp(filepath.Dir(out), ".patients-*.xlsx")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", out, err)
	}
	defer os.Remove(tmp.Name())

	if err := svc.Export(ctx, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), out); err != nil {
		return fmt.Errorf("rename to %s: %w", out, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// openStore builds the Record Store selected by STORE_BACKEND. The returned
// func releases any connections the store holds.
func openStore(ctx context.Context, cfg *config.Config) (patient.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return patient.NewRedisStore(rdb, cfg.PatientsRedisKey), func() { rdb.Close() }, nil

	case config.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		if err := db.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return patient.NewPGStore(pool), pool.Close, nil

	default:
		return patient.NewFileStore(cfg.PatientsFile), func() {}, nil
	}
}

// storeCheck pings remote stores and falls back to a full load for the file store.
func storeCheck(store patient.Store) db.CheckFunc {
	if p, ok := store.(patient.Pinger); ok {
		return p.Ping
	}
	return func(ctx context.Context) error {
		_, err := store.Load(ctx)
		return err
	}
}

func newServer(cfg *config.Config, logger zerolog.Logger, store patient.Store) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message": "Welcome to the Patient Registry",
			"version": version,
			"endpoints": map[string]string{
				"GET /":                     "This welcome message",
				"GET /about":                "System information",
				"GET /patients":             "List all patients",
				"GET /patients/{id}":        "Get a patient",
				"POST /patients":            "Add a patient",
				"PUT /patients/{id}":        "Update a patient",
				"DELETE /patients/{id}":     "Delete a patient",
				"GET /patients/city/{city}": "Patients in a city",
				"GET /patients/sort":        "Patients sorted by height, weight or bmi",
				"GET /patients/stats":       "Patient statistics",
				"GET /patients/export":      "XLSX export",
				"GET /fhir/Patient/{id}":    "Patient as a FHIR resource",
			},
		})
	})
	e.GET("/about", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"message": "Stores patient records and derives BMI and a health verdict for each one.",
			"features": []string{
				"Add, update, delete patient records",
				"Automatic BMI calculation",
				"Search patients by city",
				"Sort by height, weight or BMI",
				"Patient statistics",
				"XLSX export",
			},
			"version": version,
		})
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/store", db.HealthHandler(cfg.StoreBackend, storeCheck(store)))

	svc := patient.NewService(store, logger)
	patient.NewHandler(svc).RegisterRoutes(e.Group(""), e.Group("/fhir"))

	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open patient store")
	}
	defer closeStore()
	logger.Info().Str("backend", cfg.StoreBackend).Msg("patient store ready")

	e := newServer(cfg, logger, store)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
