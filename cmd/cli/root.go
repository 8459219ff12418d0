// Package cli provides the command-line interface for the neteye port
// scanner. It implements the Cobra command tree, layered configuration
// and process exit codes.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/neteye/internal/config"
	"github.com/anstrom/neteye/internal/errors"
	"github.com/anstrom/neteye/internal/logging"
)

const envPrefix = "NETEYE"

var (
	cfgFile string
	verbose bool

	// configErr holds a failure to read an explicitly named config file.
	configErr error
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "neteye",
	Short: "Concurrent TCP/UDP port scanner",
	Long: `Neteye is a multi-threaded TCP/UDP port scanner with banner based
service detection. Open ports can be inspected for their owning process
and handed to deeper per-service enumeration.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits with a status derived from the
// error it returns.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(errors.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./neteye.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print detailed output for the scan process")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("neteye")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setConfigDefaults(viper.GetViper(), config.Default())

	configErr = nil
	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else if cfgFile != "" {
		configErr = errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file "+cfgFile, err)
	}

	initLogging()
}

// setConfigDefaults registers every configuration key so that environment
// variables are picked up for keys absent from the file.
func setConfigDefaults(v *viper.Viper, d *config.Config) {
	v.SetDefault("scanning.target", d.Scanning.Target)
	v.SetDefault("scanning.start_port", d.Scanning.StartPort)
	v.SetDefault("scanning.end_port", d.Scanning.EndPort)
	v.SetDefault("scanning.tcp", d.Scanning.TCP)
	v.SetDefault("scanning.udp", d.Scanning.UDP)
	v.SetDefault("scanning.concurrency", d.Scanning.Concurrency)
	v.SetDefault("scanning.timeout_ms", d.Scanning.TimeoutMS)
	v.SetDefault("scanning.rate_limit", d.Scanning.RateLimit)
	v.SetDefault("scanning.inspect", d.Scanning.Inspect)
	v.SetDefault("scanning.deep", d.Scanning.Deep)
	v.SetDefault("scanning.output", d.Scanning.Output)
	v.SetDefault("scanning.ping_check", d.Scanning.PingCheck)
	v.SetDefault("scanning.schedule", d.Scanning.Schedule)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
}

// loadConfig builds the effective configuration from v: flags bound to v
// win over NETEYE_* variables, which win over the file and the defaults.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()

	cfg.Scanning.Target = v.GetString("scanning.target")
	cfg.Scanning.StartPort = v.GetInt("scanning.start_port")
	cfg.Scanning.EndPort = v.GetInt("scanning.end_port")
	cfg.Scanning.TCP = v.GetBool("scanning.tcp")
	cfg.Scanning.UDP = v.GetBool("scanning.udp")
	cfg.Scanning.Concurrency = v.GetInt("scanning.concurrency")
	cfg.Scanning.TimeoutMS = v.GetInt("scanning.timeout_ms")
	cfg.Scanning.RateLimit = v.GetInt("scanning.rate_limit")
	cfg.Scanning.Inspect = v.GetBool("scanning.inspect")
	cfg.Scanning.Deep = v.GetBool("scanning.deep")
	cfg.Scanning.Output = v.GetString("scanning.output")
	cfg.Scanning.PingCheck = v.GetBool("scanning.ping_check")
	cfg.Scanning.Schedule = v.GetString("scanning.schedule")

	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.Output = v.GetString("logging.output")

	cfg.Metrics.ListenAddr = v.GetString("metrics.listen_addr")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	level := viper.GetString("logging.level")
	if verbose && logging.ParseLevel(level) > logging.ParseLevel(string(logging.LevelInfo)) {
		level = string(logging.LevelInfo)
	}

	logConfig := logging.Config{
		Level:     logging.LogLevel(level),
		Format:    logging.LogFormat(viper.GetString("logging.format")),
		Output:    viper.GetString("logging.output"),
		AddSource: level == string(logging.LevelDebug),
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}

	logging.SetDefault(logger)

	if verbose {
		logging.Info("Structured logging initialized", "level", level, "format", logConfig.Format)
	}
}
