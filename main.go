package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pladee42/alt-history-reel/config"
	"github.com/pladee42/alt-history-reel/genai"
	"github.com/pladee42/alt-history-reel/models"
	"github.com/pladee42/alt-history-reel/publish"
	"github.com/pladee42/alt-history-reel/routers"
	"github.com/pladee42/alt-history-reel/service"
)

// Exit codes: 0 all records processed, 1 at least one record failed,
// 2 configuration or fatal error.
const (
	exitOK     = 0
	exitFailed = 1
	exitFatal  = 2
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := newRoot().Execute(); err != nil {
		logrus.WithError(err).Error("fatal")
		os.Exit(exitFatal)
	}
}

func newRoot() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "alt-history-reel",
		Short:         "Alternate-history short video pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&configPath, "style", "configs/realistic.yaml", "style config file")

	cmd.AddCommand(newRunCmd(&configPath))
	cmd.AddCommand(newEnqueueCmd(&configPath))
	cmd.AddCommand(newWorkerCmd(&configPath))
	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newResetCmd(&configPath))
	return cmd
}

// noopUploader backs dry runs, where nothing is ever uploaded.
type noopUploader struct{}

func (noopUploader) UploadVideo(_ context.Context, _, scenarioID string) (string, error) {
	return "dry-run://" + scenarioID, nil
}
func (noopUploader) UploadFolder(context.Context, string, string) error { return nil }

// buildOrchestrator wires the full pipeline against MySQL and the provider.
// A dry run gets an in-memory store and no live connections at all.
func buildOrchestrator(cfg *config.Config, dryRun bool) (*service.Orchestrator, models.Store, *service.CostLedger, error) {
	var store models.Store
	var client *genai.Client
	var uploader service.Uploader
	var publisher service.Publisher

	if dryRun {
		store = models.NewMemStore()
		client = &genai.Client{}
		uploader = noopUploader{}
	} else {
		db, err := models.InitDB(cfg.MySQL.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database: %w", err)
		}
		store = models.NewGormStore(db)

		client, err = genai.NewClient(cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("provider: %w", err)
		}

		uploader, err = service.NewDistributor(cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("storage: %w", err)
		}

		if cfg.Publish.YouTubeEnabled {
			publisher = publish.NewYouTubePublisher(cfg)
		}
	}

	costs := service.NewCostLedger()
	orch := service.NewOrchestrator(
		cfg,
		store,
		service.NewScreenwriter(client, cfg),
		service.NewPromptRefiner(client, cfg),
		service.NewArtDepartment(client, client, client, cfg),
		service.NewCinematographer(client, client, cfg),
		service.NewSoundEngineer(client, client, cfg),
		service.NewEditor(cfg),
		uploader,
		publisher,
		costs,
	)
	orch.DryRun = dryRun
	return orch, store, costs, nil
}

func newRunCmd(configPath *string) *cobra.Command {
	var phase int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pipeline phase over the record backlog",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			orch, _, costs, err := buildOrchestrator(cfg, dryRun)
			if err != nil {
				return err
			}

			summary, err := orch.RunPhase(context.Background(), phase)
			if err != nil {
				return err
			}

			logrus.WithFields(logrus.Fields{
				"phase":     phase,
				"processed": summary.Processed,
				"advanced":  summary.Advanced,
				"failed":    summary.Failed,
			}).Info("phase run finished")

			if !dryRun {
				reportPath := fmt.Sprintf("%s/costs_phase%d.json", cfg.OutputDir, phase)
				if err := costs.SaveToFile(reportPath); err != nil {
					logrus.WithError(err).Warn("cost report not saved")
				}
			}

			if summary.Failed > 0 {
				os.Exit(exitFailed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 0, "pipeline phase to run (1-4)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "list the work without calling providers")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newEnqueueCmd(configPath *string) *cobra.Command {
	var phase int

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a phase run for the worker",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			q := service.NewQueueClient(cfg)
			defer q.Close()
			return q.EnqueuePhase(phase)
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 0, "pipeline phase to queue (1-4)")
	_ = cmd.MarkFlagRequired("phase")
	return cmd
}

func newWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued phase runs",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			orch, _, _, err := buildOrchestrator(cfg, false)
			if err != nil {
				return err
			}
			return service.RunWorker(cfg, orch)
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only status API",
		RunE: func(c *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			db, err := models.InitDB(cfg.MySQL.DSN)
			if err != nil {
				return err
			}

			r := routers.InitRouter(models.NewGormStore(db))
			port := cfg.Server.Port
			if port == "" {
				port = "8080"
			}
			logrus.WithField("port", port).Info("status api listening")
			return r.Run(":" + port)
		},
	}
}

func newResetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <record-id>",
		Short: "Move a FAILED record back to PENDING",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			db, err := models.InitDB(cfg.MySQL.DSN)
			if err != nil {
				return err
			}

			if err := models.NewGormStore(db).ResetFailed(args[0]); err != nil {
				return fmt.Errorf("reset %s: %w", args[0], err)
			}
			logrus.WithField("record", args[0]).Info("record reset to PENDING")
			return nil
		},
	}
}
