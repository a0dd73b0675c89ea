package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/optimist-network/coordinator/log"
	"github.com/optimist-network/coordinator/optimist-app/config"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "optimist",
		Short: "Optimist Coordinator",
		Long:  banner + "\n\nAn off-chain coordinator node for an optimistic rollup.",
		RunE:  runApp,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   runVersion,
	}
)

const banner = `
 ██████╗ ██████╗ ████████╗██╗███╗   ███╗██╗███████╗████████╗
██╔═══██╗██╔══██╗╚══██╔══╝██║████╗ ████║██║██╔════╝╚══██╔══╝
██║   ██║██████╔╝   ██║   ██║██╔████╔██║██║███████╗   ██║
██║   ██║██╔═══╝    ██║   ██║██║╚██╔╝██║██║╚════██║   ██║
╚██████╔╝██║        ██║   ██║██║ ╚═╝ ██║██║███████║   ██║
 ╚═════╝ ╚═╝        ╚═╝   ╚═╝╚═╝     ╚═╝╚═╝╚══════╝   ╚═╝`

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	initCommands()
	return rootCmd.Execute()
}

func initCommands() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(versionCmd)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config",
		"optimist-app/configs/config.yaml", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "enable pretty logging")

	// API flags
	rootCmd.PersistentFlags().String("api-listen-addr", "", "HTTP API listen address")

	// Chain flags
	rootCmd.PersistentFlags().String("chain.rpc-endpoint", "", "base chain RPC endpoint")
	rootCmd.PersistentFlags().String("observer.url", "", "chain observer websocket URL")

	// Metrics flags
	rootCmd.PersistentFlags().Bool("metrics", false, "enable metrics")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "metrics server port")
}

func initConfig() {
	if cfgFile == "" {
		cfgFile = "optimist-app/configs/config.yaml"
	}
}

func runApp(cmd *cobra.Command, _ []string) error {
	fmt.Println(banner)
	fmt.Println()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyFlags(cmd, cfg)

	log := log.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("go_version", runtime.Version()).
		Msg("Build information")

	log.Info().
		Str("config_file", cfgFile).
		Str("self", cfg.Node.Self).
		Str("rollup_contract", cfg.Chain.RollupContract).
		Str("api_listen_addr", cfg.API.ListenAddr).
		Int("metrics_port", cfg.Metrics.Port).
		Bool("metrics_enabled", cfg.Metrics.Enabled).
		Str("log_level", cfg.Log.Level).
		Msg("Configuration loaded")

	application, err := NewApp(cmd.Context(), cfg, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(cmd.Context())
}

func runVersion(*cobra.Command, []string) {
	fmt.Println(banner)
	fmt.Println()
	fmt.Printf("Optimist Coordinator\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Printf("Go Version: %s\n", runtime.Version())
	fmt.Printf("OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flag("log-level").Changed {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flag("log-pretty").Changed {
		cfg.Log.Pretty, _ = cmd.Flags().GetBool("log-pretty")
	}

	if cmd.Flag("api-listen-addr").Changed {
		cfg.API.ListenAddr, _ = cmd.Flags().GetString("api-listen-addr")
	}
	if cmd.Flag("chain.rpc-endpoint").Changed {
		cfg.Chain.RPCEndpoint, _ = cmd.Flags().GetString("chain.rpc-endpoint")
	}
	if cmd.Flag("observer.url").Changed {
		cfg.Observer.URL, _ = cmd.Flags().GetString("observer.url")
	}

	if cmd.Flag("metrics").Changed {
		cfg.Metrics.Enabled, _ = cmd.Flags().GetBool("metrics")
	}
	if cmd.Flag("metrics-port").Changed {
		cfg.Metrics.Port, _ = cmd.Flags().GetInt("metrics-port")
	}
}
