package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/neteye/internal/discovery"
	"github.com/anstrom/neteye/internal/errors"
)

const defaultDiscoveryTimeout = 3 // seconds per host

var discoverTimeout int

// newPinger builds the reachability checker; tests replace it.
var newPinger = func(timeout time.Duration) pinger {
	engine := discovery.NewEngine()
	engine.SetTimeout(timeout)
	return engine
}

// discoverCmd represents the discover command.
var discoverCmd = &cobra.Command{
	Use:   "discover <address>",
	Short: "Check whether a host is reachable",
	Long: `Run an nmap ping scan against a single host and report whether it
answered. The scan command runs the same check with --ping-check.`,
	Example: `  neteye discover 192.168.1.10
  neteye discover gateway.lan --timeout 10`,
	Args: cobra.ExactArgs(1),
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().IntVar(&discoverTimeout, "timeout", defaultDiscoveryTimeout, "Discovery timeout in seconds")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	target := args[0]
	if discoverTimeout <= 0 {
		return errors.ErrConfigInvalid("timeout", discoverTimeout)
	}

	result, err := newPinger(time.Duration(discoverTimeout)*time.Second).PingCheck(cmd.Context(), target)
	if err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "ping check failed", target, err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Message())
	if result.Up && result.Address != "" && result.Address != target {
		fmt.Fprintf(cmd.OutOrStdout(), "Address: %s\n", result.Address)
	}
	return nil
}
