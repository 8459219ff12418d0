package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/neteye/internal/metrics"
)

const metricsShutdownTimeout = 5 * time.Second

var scanSummary bool

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a host for open ports and services",
	Long: `Scan a single host over TCP, UDP or both. Every port of the range is
probed concurrently, open ports are classified from their banner and written
as they are found. Inspection and deep enumeration run in the background for
open ports and are awaited before the command exits.`,
	Example: `  neteye scan -a 192.168.1.10 -s 1 -e 1024
  neteye scan -a scanme.example.org -T -U -j 128 -t 500
  neteye scan -a 10.0.0.5 -i --deep -o results.txt
  neteye scan -a 10.0.0.5 -s 20 -e 25 --schedule "*/15 * * * *"`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()
	flags.StringP("address", "a", "127.0.0.1", "IP address or hostname to scan")
	flags.IntP("start-port", "s", 1, "Port number to start scanning from")
	flags.IntP("end-port", "e", 65535, "Port number to end scanning at")
	flags.BoolP("tcp", "T", false, "Enable TCP port scanning (default when no protocol is given)")
	flags.BoolP("udp", "U", false, "Enable UDP port scanning")
	flags.IntP("threads", "j", runtime.NumCPU(), "Maximum number of probes in flight")
	flags.IntP("timeout", "t", 3000, "Timeout in milliseconds for each port check")
	flags.BoolP("inspect", "i", false, "Inspect open ports for the owning process")
	flags.StringP("output", "o", "", "Output file to save results")
	flags.BoolP("ping-check", "p", false, "Perform a ping check to the address before scanning")
	flags.Bool("deep", false, "Run per-service enumeration for open TCP ports")
	flags.String("schedule", "", "Repeat the scan on a cron schedule until interrupted")
	flags.Int("rate", 0, "Maximum probe dispatches per second (0 = unlimited)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.BoolVar(&scanSummary, "summary", false, "Print a summary table of open ports")

	bindings := map[string]string{
		"scanning.target":      "address",
		"scanning.start_port":  "start-port",
		"scanning.end_port":    "end-port",
		"scanning.tcp":         "tcp",
		"scanning.udp":         "udp",
		"scanning.concurrency": "threads",
		"scanning.timeout_ms":  "timeout",
		"scanning.inspect":     "inspect",
		"scanning.output":      "output",
		"scanning.ping_check":  "ping-check",
		"scanning.deep":        "deep",
		"scanning.schedule":    "schedule",
		"scanning.rate_limit":  "rate",
		"metrics.listen_addr":  "metrics-addr",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", name, err)
		}
	}
}

func runScan(cmd *cobra.Command, _ []string) error {
	if configErr != nil {
		return configErr
	}
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := newScanRunner(cfg, cmd.OutOrStdout())
	runner.verbose = verbose
	runner.summary = scanSummary

	if cfg.MetricsEnabled() {
		pm := metrics.NewPrometheusMetrics()
		server := metrics.NewServer(cfg.Metrics.ListenAddr, pm)
		if err := server.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			_ = server.Stop(shutdownCtx)
		}()
		runner.recorder = pm
	}

	if cfg.Scanning.Schedule != "" {
		return runner.runScheduled(ctx)
	}
	return runner.run(ctx)
}
