package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"LevPair/internal/di"
	"LevPair/pkg/config"
	applogger "LevPair/pkg/logger"
	"LevPair/pkg/server"
)

const (
	defaultConfig  = "configs/config.yaml"
	fallbackConfig = "configs/config.example.yaml"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "levpair",
		Short:         "Adaptive ensemble signal engine for a leveraged long/short pair",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "config file path")

	root.AddCommand(runCmd(&configPath))
	root.AddCommand(onceCmd(&configPath))
	root.AddCommand(retrainCmd(&configPath))
	root.AddCommand(seedCmd(&configPath))
	root.AddCommand(inspectCmd(&configPath))
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == defaultConfig {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = fallbackConfig
		}
	}
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

func buildApp(path string) (*config.Config, *server.App, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	app, err := di.InitializeApp(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("app initialization failed: %w", err)
	}
	app.Logger().Info("levpair initialized",
		applogger.String("env", cfg.Environment),
		applogger.String("market", cfg.Market.Source),
		applogger.String("pair", cfg.Pair.SymbolA+"/"+cfg.Pair.SymbolB),
	)
	return cfg, app, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the engine loop, the outcome consumers and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}

func onceCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single signal cycle and print the recommendation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			e := app.Engine()
			e.LoadState()
			rec := e.Cycle(cmd.Context())
			if err := e.SaveState(); err != nil {
				app.Logger().Warn("state save failed", applogger.Error(err))
			}
			return printJSON(rec)
		},
	}
}

func retrainCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Refit the model bank from pattern memory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			e := app.Engine()
			e.LoadState()
			res, err := e.Retrain(cmd.Context())
			if err != nil {
				return err
			}
			if err := e.SaveState(); err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func seedCmd(configPath *string) *cobra.Command {
	var count int
	var retrain bool
	cmd := &cobra.Command{
		Use:   "seed-synthetic",
		Short: "Seed pattern memory with synthetic patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			if count <= 0 {
				count = cfg.Synthetic.Patterns
			}
			gen, err := di.ProvideSyntheticGenerator(cfg)
			if err != nil {
				return err
			}
			patterns, err := gen.Generate(count)
			if err != nil {
				return err
			}

			e := app.Engine()
			e.LoadState()
			n, err := e.Seed(patterns)
			if err != nil {
				return err
			}
			app.Logger().Info("synthetic patterns seeded", applogger.Int("stored", n))
			if retrain {
				if _, err := e.Retrain(cmd.Context()); err != nil {
					return err
				}
			}
			if err := e.SaveState(); err != nil {
				return err
			}
			return printJSON(e.Status().Patterns)
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "patterns to generate (defaults to synthetic.patterns)")
	cmd.Flags().BoolVar(&retrain, "retrain", true, "refit the model bank after seeding")
	return cmd
}

func inspectCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted engine status",
		RunE: func(_ *cobra.Command, _ []string) error {
			_, app, err := buildApp(*configPath)
			if err != nil {
				return err
			}
			defer app.Close()

			e := app.Engine()
			e.LoadState()
			return printJSON(e.Status())
		},
	}
}
