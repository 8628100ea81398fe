package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	// Global flags
	tcpAddr      string
	udpAddr      string
	unitID       uint8
	coilCount    int
	regCount     int
	persistPath  string
	persistMmap  bool
	saveInterval time.Duration
	verbose      bool

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "mbcored",
	Short: "A Modbus TCP/UDP server daemon",
	Long: `mbcored serves a Modbus register context over TCP and UDP.

The context holds four register banks (coils, discrete inputs, input
registers, holding registers) and answers the standard read and write
function codes. The context can be persisted to disk and survives
restarts.

Examples:
  # Serve on the default port as unit 1
  mbcored serve

  # Serve TCP and UDP with a persisted context, saved every 30s
  mbcored serve --tcp :502 --udp :502 --persist /var/lib/mbcored/ctx.dat -i 30s

  # Inspect a persisted context snapshot
  mbcored dump /var/lib/mbcored/ctx.dat`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.mbcored.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	serveCmd.Flags().StringVar(&tcpAddr, "tcp", ":502", "TCP listen address (empty to disable)")
	serveCmd.Flags().StringVar(&udpAddr, "udp", "", "UDP listen address (empty to disable)")
	serveCmd.Flags().Uint8VarP(&unitID, "unit", "u", 1, "Modbus unit ID (1-247)")
	serveCmd.Flags().IntVar(&coilCount, "coils", 10000, "Size of each bit bank")
	serveCmd.Flags().IntVar(&regCount, "registers", 10000, "Size of each register bank")
	serveCmd.Flags().StringVar(&persistPath, "persist", "", "Path of the context snapshot file (empty to disable)")
	serveCmd.Flags().BoolVar(&persistMmap, "persist-mmap", false, "Keep the snapshot memory-mapped instead of rewriting the file")
	serveCmd.Flags().DurationVarP(&saveInterval, "save-interval", "i", 30*time.Second, "Interval between context snapshots")

	viper.BindPFlag("tcp", serveCmd.Flags().Lookup("tcp"))
	viper.BindPFlag("udp", serveCmd.Flags().Lookup("udp"))
	viper.BindPFlag("unit", serveCmd.Flags().Lookup("unit"))
	viper.BindPFlag("persist", serveCmd.Flags().Lookup("persist"))
	viper.BindPFlag("save-interval", serveCmd.Flags().Lookup("save-interval"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dumpCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigName(".mbcored")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MBCORED")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
