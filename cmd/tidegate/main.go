package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/harborlab/tidegate/internal/admin"
	"github.com/harborlab/tidegate/internal/appeal"
	"github.com/harborlab/tidegate/internal/config"
	"github.com/harborlab/tidegate/internal/geo"
	"github.com/harborlab/tidegate/internal/identity"
	"github.com/harborlab/tidegate/internal/ledger"
	"github.com/harborlab/tidegate/internal/logger"
	"github.com/harborlab/tidegate/internal/planner"
	"github.com/harborlab/tidegate/internal/rle"
	"github.com/harborlab/tidegate/internal/sampler"
	"github.com/harborlab/tidegate/internal/server"
	"github.com/harborlab/tidegate/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version is set by the build system via -ldflags.
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "tidegate",
		Short: "Water-map query service with abuse throttling",
	}

	root.AddCommand(
		runCmd(),
		healthcheckCmd(),
		versionCmd(),
		inspectLedgerCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// runCmd is the main daemon command.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the query service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon()
		},
	}
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info().Str("version", Version).Msg("tidegate starting")

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	oracle, err := geo.LoadGeoJSON(cfg.WaterMapPath)
	if err != nil {
		return fmt.Errorf("load water map: %w", err)
	}
	log.Info().Str("path", cfg.WaterMapPath).
		Int("polygons", oracle.PolygonCount()).Msg("water map loaded")

	allow, err := identity.ParseAllowList(cfg.AllowList)
	if err != nil {
		return fmt.Errorf("parse allow-list: %w", err)
	}

	lg := ledger.New(store, allow, ledger.Config{
		DecayPerHour:      cfg.DecayPerHour,
		FreeThreshold:     cfg.FreeThreshold,
		CooldownUnit:      cfg.CooldownUnit,
		ThrottleThreshold: cfg.ThrottleThreshold,
		MaxStrikes:        cfg.MaxStrikes,
		MaxTokens:         cfg.MaxTokens,
		AllowBonus:        cfg.AllowBonus,
	}, log)

	policy := ledger.DefaultPolicy()
	policy.HardBlock.Threshold = cfg.HardThreshold

	plannerCfg := planner.Defaults()
	plannerCfg.MinRadiusMiles = cfg.MinRadiusMiles
	plannerCfg.MaxRadiusMiles = cfg.MaxRadiusMiles
	plannerCfg.TilesPerToken = cfg.TilesPerToken
	plannerCfg.ShrinkStepMiles = cfg.ShrinkStepMiles

	var challenges *admin.Challenges
	if len(cfg.AdminPasswords) > 0 {
		challenges, err = admin.NewChallenges(cfg.AdminPasswords, cfg.ChallengeTTL)
		if err != nil {
			return fmt.Errorf("init admin challenges: %w", err)
		}
	} else {
		log.Warn().Msg("no admin passwords configured; mutating admin routes disabled")
	}

	srv := server.New(server.Options{
		ListenAddr:  cfg.ListenAddr,
		MetricsAddr: cfg.MetricsAddr,
		Metrics:     cfg.MetricsEnabled,

		Store:      store,
		Ledger:     lg,
		Policy:     policy,
		Planner:    plannerCfg,
		Codec:      rle.New(cfg.RunWidth),
		Sampler:    sampler.New(oracle, cfg.SamplerWorkers),
		Oracle:     oracle,
		Appeals:    appeal.NewService(store, cfg.AppealWindow),
		Challenges: challenges,
		Charges: server.Charges{
			BaseCheck:     cfg.BaseCheckCharge,
			Snapshot:      cfg.SnapshotCharge,
			Dashboard:     cfg.DashboardCharge,
			BannedSurface: cfg.BannedSurfaceCharge,
			Appeal:        cfg.AppealCharge,
			InternalError: cfg.InternalErrorPenalty,
		},
		Ban: server.BanParams{
			BaseStrikes:  cfg.BanBaseStrikes,
			ExtraStrikes: cfg.BanExtraStrikes,
			Cooldown:     cfg.BanCooldown,
		},
		JanitorInterval: cfg.JanitorInterval,

		Log: log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx)
}

// healthcheckCmd exits 0 if the service answers its health endpoint.
func healthcheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Check health endpoint and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			resp, err := http.Get("http://" + hostAddr(cfg.ListenAddr) + "/healthz") //nolint:noctx
			if err != nil {
				fmt.Fprintf(os.Stderr, "healthcheck failed: %v\n", err)
				os.Exit(1)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				fmt.Fprintf(os.Stderr, "healthcheck returned %d\n", resp.StatusCode)
				os.Exit(1)
			}
			fmt.Println("healthy")
			return nil
		},
	}
}

// versionCmd prints the version and exits.
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("tidegate %s\n", Version)
		},
	}
}

// inspectLedgerCmd dumps the strike ledger for operator inspection.
func inspectLedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-ledger",
		Short: "Print all tracked identities and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.ListRecords()
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(records))
			for id := range records {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			now := time.Now()
			for _, id := range ids {
				rec := records[id]
				state := "idle"
				if rec.InCooldown(now) {
					state = fmt.Sprintf("cooldown %s", rec.CooldownRemaining(now).Round(time.Second))
				}
				fmt.Printf("%-40s strikes=%-12.2f %s\n", id, rec.Strikes, state)
			}
			fmt.Printf("%d identities tracked\n", len(ids))
			return nil
		},
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.StorageBackend == "redis" {
		return storage.NewRedisStore(storage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
	}
	return storage.NewBboltStore(cfg.DataDir)
}

// hostAddr makes a bind address dialable: ":8080" becomes "localhost:8080".
func hostAddr(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

func buildLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if cfg.LogFormat == "text" {
		cw := zerolog.NewConsoleWriter()
		cw.Out = logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(cw).Level(level).With().Timestamp().Logger()
	} else {
		redactWriter := logger.NewRedactWriter(os.Stderr)
		base = zerolog.New(redactWriter).Level(level).With().Timestamp().Logger()
	}
	return base
}
