package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/user/bluexfer/config"
	"github.com/user/bluexfer/logger"
)

const helpDescription = `
Send whole messages between devices over a simulated BLE GATT link.

A node advertises the transfer service, scans for peers, connects, discovers
the receive and send characteristics and subscribes. Messages are split into
MTU-sized chunks with backpressure and closed with an end-of-message sentinel.

Configure via $HOME/.bluexfer/config.toml, BLUEXFER_* variables or flags
(flags win over the environment, the environment wins over the file).
`

var exampleUsage = strings.TrimSpace(`
  bluexfer demo
  bluexfer run --device-name alpha --payload presentation.json --watch
  bluexfer run --central=false --roles receiver --events-addr :8080 --archive alpha.db
  bluexfer history --archive alpha.db
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func versionString() string {
	return fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH)
}

func main() {
	root := &cobra.Command{
		Use:           "bluexfer",
		Short:         "Chunked message transfer over BLE GATT",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newDemoCmd(), newHistoryCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		logger.Error("bluexfer", "%v", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "bluexfer", versionString())
		},
	}
}

// loadConfig layers the config file and BLUEXFER_* variables under the flags
// the user actually set, then validates.
func loadConfig(cmd *cobra.Command, cfg *config.Config, cfgPath string) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = config.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && config.FileExists(cfgFile) {
		fc, err := config.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := config.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	} else if cfgPath != "" {
		return fmt.Errorf("config file %s not found", cfgPath)
	}

	if err := config.ApplyEnvConfig(cfg, changed); err != nil {
		return err
	}
	return cfg.Validate()
}

// bindNodeFlags registers every node setting on fs with cfg's current values
// as defaults.
func bindNodeFlags(fs *pflag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "device identity (default: random UUID)")
	fs.StringVar(&cfg.DeviceName, "device-name", cfg.DeviceName, "advertised local name")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "simulation directory shared by all devices (default: $BLUEXFER_DIR or ~/.bluexfer-data)")

	fs.BoolVar(&cfg.Central, "central", cfg.Central, "scan for and connect to peers")
	fs.BoolVar(&cfg.Peripheral, "peripheral", cfg.Peripheral, "advertise and accept connections")
	fs.StringSliceVar(&cfg.Roles, "roles", cfg.Roles, "transfer roles: sender, receiver")
	fs.BoolVar(&cfg.AutoConnect, "auto-connect", cfg.AutoConnect, "connect to discovered candidates automatically")

	fs.StringVar(&cfg.ServiceUUID, "service-uuid", cfg.ServiceUUID, "transfer service UUID")
	fs.StringVar(&cfg.ReceiveCharacteristicUUID, "rx-uuid", cfg.ReceiveCharacteristicUUID, "receive characteristic UUID (central writes)")
	fs.StringVar(&cfg.SendCharacteristicUUID, "tx-uuid", cfg.SendCharacteristicUUID, "send characteristic UUID (peripheral notifies)")
	fs.StringVar(&cfg.Sentinel, "sentinel", cfg.Sentinel, "end-of-message marker")

	fs.IntVar(&cfg.RSSIThreshold, "rssi-threshold", cfg.RSSIThreshold, "ignore candidates weaker than this (dBm)")
	fs.IntVar(&cfg.MaxConnections, "max-connections", cfg.MaxConnections, "concurrent connection cap")
	fs.IntVar(&cfg.MTU, "mtu", cfg.MTU, "proposed ATT MTU (chunk size is MTU-3)")
	fs.IntVar(&cfg.TxQueueDepth, "tx-queue-depth", cfg.TxQueueDepth, "outstanding chunks per link before backpressure")
	fs.IntVar(&cfg.MaxMessageBytes, "max-message-bytes", cfg.MaxMessageBytes, "discard inbound messages larger than this (0 = unlimited)")
	fs.Float64Var(&cfg.DistanceM, "distance", cfg.DistanceM, "simulated distance to peers in meters")

	fs.DurationVar(&cfg.ConnectionInterval, "connection-interval", cfg.ConnectionInterval, "pacing between transmitted chunks")
	fs.DurationVar(&cfg.ScanInterval, "scan-interval", cfg.ScanInterval, "interval between discovery sweeps")
	fs.DurationVar(&cfg.ReconnectInitial, "reconnect-initial", cfg.ReconnectInitial, "first reconnect holdoff")
	fs.DurationVar(&cfg.ReconnectMax, "reconnect-max", cfg.ReconnectMax, "longest reconnect holdoff")

	fs.StringVar(&cfg.PayloadFile, "payload", cfg.PayloadFile, "file sent to every ready peer (default: mock presentation)")
	fs.StringVar(&cfg.PayloadEncoding, "payload-encoding", cfg.PayloadEncoding, "raw or proto")
	fs.StringVar(&cfg.EventsAddr, "events-addr", cfg.EventsAddr, "serve the event feed on this address (empty = off)")
	fs.StringVar(&cfg.ArchivePath, "archive", cfg.ArchivePath, "SQLite archive of messages and transitions (empty = off)")
	fs.BoolVar(&cfg.Journal, "journal", cfg.Journal, "append connection events to the device journal")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn or error")
	fs.BoolVar(&cfg.LogJSON, "log-json", cfg.LogJSON, "write logs as JSON lines")
}

func setupLogging(cfg config.Config) {
	logger.SetOutput(os.Stderr, cfg.LogJSON)
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
}
