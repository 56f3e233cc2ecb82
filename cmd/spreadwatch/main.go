package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/spreadwatch/spreadwatch/internal/app"
	"github.com/spreadwatch/spreadwatch/internal/config"
	"github.com/spreadwatch/spreadwatch/internal/exchange"
	"github.com/spreadwatch/spreadwatch/internal/symbols"
)

const version = "0.3.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "spreadwatch",
	Short: "Cross-exchange spot arbitrage scanner",
	Long: `spreadwatch polls spot tickers from multiple exchanges, evaluates
cross-venue arbitrage net of fees every second and serves a ranked
opportunity feed over HTTP and WebSocket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scanner and the HTTP/WebSocket server",
	RunE:  runServe,
}

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "Discover markets and print the cross-exchange symbol universe",
	RunE:  runMarkets,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("spreadwatch %s\n", version)
	},
}

var marketsFormat string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (trace, debug, info, warn, error)")
	marketsCmd.Flags().StringVar(&marketsFormat, "format", "table", "Output format: table, json")
	rootCmd.AddCommand(serveCmd, marketsCmd, versionCmd)
}

func setupLogging(level string) error {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel == "" {
		if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", version).Int("exchanges", len(cfg.EnabledExchanges())).
		Int("port", cfg.Web.Port).Msg("starting spreadwatch")
	return a.Run(ctx)
}

func runMarkets(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	mapper := symbols.NewMapper(symbols.DefaultOverrides())
	counts := make(map[string]int)
	for _, exCfg := range cfg.EnabledExchanges() {
		adapter, err := exchange.New(exCfg, mapper)
		if err != nil {
			return err
		}
		markets, err := adapter.FetchMarkets(ctx)
		if err != nil {
			log.Warn().Str("venue", adapter.Name()).Err(err).Msg("discovery failed")
			continue
		}
		counts[adapter.Name()] = mapper.Register(adapter.Name(), markets)
	}

	universe := mapper.Intersection()
	if marketsFormat == "json" {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"exchanges": counts,
			"symbols":   universe,
		})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXCHANGE\tUSDT PAIRS")
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, counts[name])
	}
	w.Flush()
	fmt.Printf("\n%d symbols tradable on 2+ exchanges\n", len(universe))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
