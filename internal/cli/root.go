// Package cli implements the pmt command line interface.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/konflux-ci/pipeline-migration-tool/internal/config"
	"github.com/konflux-ci/pipeline-migration-tool/internal/discovery"
	"github.com/konflux-ci/pipeline-migration-tool/internal/logging"
	"github.com/konflux-ci/pipeline-migration-tool/internal/migrate"
	"github.com/konflux-ci/pipeline-migration-tool/internal/plan"
	"github.com/konflux-ci/pipeline-migration-tool/internal/registry"
	"github.com/konflux-ci/pipeline-migration-tool/internal/version"
)

// Exit codes. Success is 0; unexpected failures exit 1.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitInvalidInput = 2
	ExitTransport    = 3
	ExitStepFailed   = 4
)

type app struct {
	cfg    config.Config
	logger zerolog.Logger
}

// rootFlags are the global flags layered over the config file: file values
// first, then any flag the user actually set.
type rootFlags struct {
	configPath   string
	logLevel     string
	concurrency  int
	retries      int
	retryDelay   int
	cacheDir     string
	registryAuth []string
	plainHTTP    []string
}

func newRootCmd(a *app) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "pmt",
		Short: "Apply task bundle migrations to Tekton pipeline definitions",
		Long: "pmt discovers migration scripts attached to Konflux task bundles in an\n" +
			"OCI registry and applies them, in version order, to pipeline definition\n" +
			"files that Renovate has upgraded.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.logger = logging.Init(flags.logLevel)
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(&cfg, cmd, flags); err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			a.cfg = cfg
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to the TOML configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.IntVar(&flags.concurrency, "concurrency", 0, "number of pipeline files migrated in parallel")
	pf.IntVar(&flags.retries, "retries", 0, "retries for transient registry failures")
	pf.IntVar(&flags.retryDelay, "retry-delay", 0, "initial retry delay in seconds")
	pf.StringVar(&flags.cacheDir, "cache-dir", "", "directory for the registry response cache")
	pf.StringArrayVar(&flags.registryAuth, "registry-auth", nil, "static registry credential as user:pass@host (repeatable)")
	pf.StringArrayVar(&flags.plainHTTP, "plain-http", nil, "registry host to reach over HTTP (repeatable)")

	cmd.AddCommand(newMigrateCmd(a))
	cmd.AddCommand(newPlanCmd(a))
	return cmd
}

func applyFlagOverrides(cfg *config.Config, cmd *cobra.Command, flags *rootFlags) error {
	set := cmd.Flags().Changed
	if set("concurrency") {
		cfg.Concurrency = flags.concurrency
	}
	if set("retries") {
		cfg.Retries = flags.retries
	}
	if set("retry-delay") {
		cfg.RetryDelaySeconds = flags.retryDelay
	}
	if set("cache-dir") {
		cfg.CacheDir = flags.cacheDir
	}
	if set("plain-http") {
		cfg.PlainHTTP = append(cfg.PlainHTTP, flags.plainHTTP...)
	}
	for _, entry := range flags.registryAuth {
		auth, err := parseRegistryAuth(entry)
		if err != nil {
			return err
		}
		cfg.Auth = append(cfg.Auth, auth)
	}
	return nil
}

// parseRegistryAuth splits a user:pass@host credential. The password may
// itself contain colons; the host is everything after the last '@'.
func parseRegistryAuth(entry string) (config.RegistryAuth, error) {
	at := strings.LastIndexByte(entry, '@')
	if at < 0 {
		return config.RegistryAuth{}, fmt.Errorf("invalid --registry-auth %q: expected user:pass@host", entry)
	}
	cred, host := entry[:at], entry[at+1:]
	user, pass, ok := strings.Cut(cred, ":")
	if !ok || user == "" || pass == "" || host == "" {
		return config.RegistryAuth{}, fmt.Errorf("invalid --registry-auth %q: expected user:pass@host", entry)
	}
	return config.RegistryAuth{Host: host, Username: user, Password: pass}, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	a := &app{logger: zerolog.Nop()}
	cmd := newRootCmd(a)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return ExitOK
}

// exitCode maps the error taxonomy onto exit codes. A step failure wins
// over its transport cause: the run did start mutating files.
func exitCode(err error) int {
	var stepErr *migrate.StepError
	if errors.As(err, &stepErr) {
		return ExitStepFailed
	}

	var parseErr *version.ParseError
	var rangeErr *plan.InvalidRangeError
	var upgradesErr *migrate.InvalidUpgradesError
	if errors.As(err, &parseErr) || errors.As(err, &rangeErr) || errors.As(err, &upgradesErr) {
		return ExitInvalidInput
	}

	var discoveryErr *discovery.DiscoveryError
	var transportErr *registry.TransportError
	if errors.As(err, &discoveryErr) || errors.As(err, &transportErr) {
		return ExitTransport
	}

	return ExitFailure
}

func (a *app) newService(dryRun bool) (*migrate.Service, error) {
	opts := a.cfg.RegistryOptions()
	opts.Logger = logging.Component(a.logger, "registry")

	client, err := registry.NewClient(opts)
	if err != nil {
		return nil, err
	}

	return migrate.NewService(client, newScriptRunner(),
		migrate.WithConcurrency(a.cfg.Concurrency),
		migrate.WithDryRun(dryRun),
		migrate.WithLogger(logging.Component(a.logger, "migrate")),
	), nil
}
