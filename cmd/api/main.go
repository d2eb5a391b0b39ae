package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/web-chatbot/backend/internal/app"
	"github.com/web-chatbot/backend/internal/evaluation"
	"github.com/web-chatbot/backend/internal/experiment"
	"github.com/web-chatbot/backend/internal/query"
	"github.com/web-chatbot/backend/internal/registry"
	"github.com/web-chatbot/backend/internal/report"
	"github.com/web-chatbot/backend/pkg/config"
	appLogger "github.com/web-chatbot/backend/pkg/logger"
)

var (
	configFile string
	jsonOutput bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "webqa",
		Short: "Question answering over web pages with model benchmarking",
		Long: `webqa extracts a web page, indexes it and answers questions about it
with a selectable chat model. Every answer is recorded in an experiment
store so models can be compared over time.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(experimentsCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(benchCmd())
	rootCmd.AddCommand(evaluateCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			appLogger.Info("Starting web chatbot API server")

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				appLogger.Fatal("Failed to initialize application", zap.Error(err))
			}
			defer a.Close()

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			appLogger.Info("Server starting", zap.String("address", addr))

			go func() {
				if err := a.Fiber.Listen(addr); err != nil {
					appLogger.Fatal("Server failed to start", zap.Error(err))
				}
			}()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit

			appLogger.Info("Server shutting down gracefully...")
			if err := a.Fiber.ShutdownWithTimeout(30 * time.Second); err != nil {
				appLogger.Error("Server shutdown failed", zap.Error(err))
			}
			appLogger.Info("Server stopped")
			return nil
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List selectable chat models",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}

			reg, err := registry.Load(cfg.Models.Path)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(reg.List())
			}
			for _, name := range reg.List() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func withStores(cmd *cobra.Command, fn func(ctx context.Context, s *app.Stores) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	ctx := cmd.Context()
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	return fn(ctx, stores)
}

func experimentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "experiments",
		Short: "Inspect recorded experiments",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List experiments in key order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(ctx context.Context, s *app.Stores) error {
				all, err := s.Experiments.ReadAll(ctx)
				if err != nil {
					return err
				}
				reports := report.Reports(all)
				if jsonOutput {
					return printJSON(reports)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "KEY\tURL\tQUESTION\tANSWERS")
				for _, r := range reports {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Key, r.URL, r.Question, len(r.Rows))
				}
				return w.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "latest",
		Short: "Show the most recent experiment",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(ctx context.Context, s *app.Stores) error {
				entry, err := s.Experiments.ReadMostRecent(ctx)
				if err != nil {
					return err
				}
				if entry == nil {
					fmt.Fprintln(os.Stderr, "No experiments recorded")
					return nil
				}
				return printJSON(report.Report{
					Key:      entry.Key,
					URL:      entry.Experiment.URL,
					Question: entry.Experiment.Question,
					Date:     entry.Experiment.Date,
					Rows:     report.Rows(entry.Experiment),
				})
			})
		},
	})

	return cmd
}

func reportCmd() *cobra.Command {
	var (
		pageSize int
		page     int
	)

	cmd := &cobra.Command{
		Use:   "report [key]",
		Short: "Print experiment results page by page",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(ctx context.Context, s *app.Stores) error {
				all, err := s.Experiments.ReadAll(ctx)
				if err != nil {
					return err
				}

				keys := experiment.SortedKeys(all)
				if len(args) == 1 {
					if _, ok := all[args[0]]; !ok {
						return fmt.Errorf("%w: %s", experiment.ErrExperimentNotFound, args[0])
					}
					keys = []string{args[0]}
				}

				for _, key := range keys {
					exp := all[key]
					p := report.Paginate(report.Rows(exp), pageSize, page)
					if jsonOutput {
						if err := printJSON(map[string]interface{}{"key": key, "page": p}); err != nil {
							return err
						}
						continue
					}

					fmt.Printf("%s  %s\n%s\n", key, exp.URL, exp.Question)
					w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "MODEL\tTIME (min)\tSCORE\tANSWER")
					for _, r := range p.Rows {
						score := "-"
						if r.Score != nil {
							score = fmt.Sprintf("%.4f", *r.Score)
						}
						fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n", r.ModelName, r.Minutes, score, oneLine(r.Answer, 80))
					}
					if err := w.Flush(); err != nil {
						return err
					}
					fmt.Printf("page %d/%d (%d rows)\n\n", p.Page, p.TotalPages, p.TotalRows)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&pageSize, "page-size", report.DefaultPageSize, "Rows per page")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	return cmd
}

func benchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bench",
		Short: "Aggregate response times and scores per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(ctx context.Context, s *app.Stores) error {
				all, err := s.Experiments.ReadAll(ctx)
				if err != nil {
					return err
				}
				b := report.BuildBenchmark(all)
				if jsonOutput {
					return printJSON(b)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tEXPERIMENTS\tMEAN TIME (min)\tMEAN SCORE")
				for i, times := range b.Times {
					n, meanTime := mean(times.Data)
					_, meanScore := mean(b.Scores[i].Data)
					fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", times.Name, n, formatPtr(meanTime), formatPtr(meanScore))
				}
				return w.Flush()
			})
		},
	}
}

func evaluateCmd() *cobra.Command {
	var (
		datasetPath string
		modelNames  []string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run a question dataset against models and record scored results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			defer appLogger.Sync()

			ds, err := evaluation.LoadDataset(datasetPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(modelNames) == 0 {
				modelNames = a.Registry.List()
			}

			page, err := a.Extractor.Extract(ctx, ds.URL)
			if err != nil {
				return err
			}
			handle, err := a.Processor.BuildIndex(ctx, page.URL, page.Text)
			if err != nil {
				return err
			}

			for i, item := range ds.Items {
				key, err := a.Stores.Experiments.InitExperiment(ctx, page.URL, item.Question)
				if err != nil {
					return err
				}

				for _, model := range modelNames {
					resp, err := a.Engine.Ask(ctx, query.AskRequest{
						ExperimentKey: key,
						Model:         model,
						Question:      item.Question,
						Index:         handle,
						Reference:     item.Reference,
					})
					if err != nil {
						appLogger.Error("Evaluation question failed",
							zap.Int("item", i),
							zap.String("model", model),
							zap.Error(err),
						)
						continue
					}
					fmt.Printf("%s\t%s\t%.2f min\t%s\n", key, model, resp.Minutes, formatPtr(resp.Score))
				}

				// keys have one-second resolution
				if i < len(ds.Items)-1 {
					time.Sleep(time.Second)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&datasetPath, "dataset", "d", "", "Path to a JSON dataset of questions and references")
	cmd.Flags().StringSliceVarP(&modelNames, "models", "m", nil, "Models to evaluate (default: all)")
	_ = cmd.MarkFlagRequired("dataset")
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// mean averages the non-nil values. It returns nil when there are none.
func mean(values []*float64) (int, *float64) {
	var sum float64
	var n int
	for _, v := range values {
		if v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	m := sum / float64(n)
	return n, &m
}

func formatPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}

func oneLine(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n-3]) + "..."
	}
	return string(r)
}
