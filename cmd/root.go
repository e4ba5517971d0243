package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/liqi-mitm/core/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile     string
	listenAddr  string
	controlAddr string
	upstreamURL string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "liqi-mitm",
	Short: "liqi-mitm — transparent MITM proxy and automation controller",
	Long:  "liqi-mitm sits between the game client and its lobby server, decoding the Liqi length-prefixed protobuf RPC dialect, and drives an automated amulet run through it on request.",
	Run: func(cmd *cobra.Command, args []string) {
		runProxy()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "automation config file (default: config.json5 or $LIQI_MITM_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", ":23410", "address the client-facing proxy listens on")
	rootCmd.PersistentFlags().StringVar(&controlAddr, "control-addr", ":23411", "address the UI control channel listens on")
	rootCmd.PersistentFlags().StringVar(&upstreamURL, "upstream", "", "upstream lobby WebSocket URL (required to run)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(configureCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("liqi-mitm %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("LIQI_MITM_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
