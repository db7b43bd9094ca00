package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/OneStable-limited/onestable-bridge/internal/artifacts"
	"github.com/OneStable-limited/onestable-bridge/internal/bridge"
	"github.com/OneStable-limited/onestable-bridge/internal/config"
	"github.com/OneStable-limited/onestable-bridge/internal/database"
	"github.com/OneStable-limited/onestable-bridge/internal/lock"
	"github.com/OneStable-limited/onestable-bridge/internal/plan"
	"github.com/OneStable-limited/onestable-bridge/internal/repository"
)

var (
	flagConfig      string
	flagEnvFile     string
	flagLogLevel    string
	flagLogFormat   string
	flagNetwork     string
	flagModule      string
	flagParameters  string
	flagParams      []string
	flagWireAdapter bool
)

var rootCmd = &cobra.Command{
	Use:   "bridge-deployer",
	Short: "Deploy and wire the Onestable bridge contracts",
	Long: `Deploy the Onestable bridge proxy, bind the bridge interface to it,
deploy the relayer adapter and register the adapter with the bridge.

Every node of the deployment plan is journaled per network. Rerunning a
deployment skips confirmed nodes, recovers transactions that were in flight
and retries failed ones.

Examples:
  # Show what a source chain deployment would do
  bridge-deployer plan --network bscTestnet --parameters params/bscTestnet.yaml

  # Deploy the destination side without wiring the adapter
  bridge-deployer deploy --network mstTestnet --module destination \
    --parameters params/mstTestnet.yaml --wire-adapter=false`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default: ./config.yaml or ./config/config.yaml)")
	pf.StringVar(&flagEnvFile, "env-file", ".env", "dotenv file merged into the environment")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	pf.StringVar(&flagLogFormat, "log-format", "", "log format: text or json (overrides config)")
	pf.StringVarP(&flagNetwork, "network", "n", "", "target network")
	pf.StringVarP(&flagModule, "module", "m", "source", "module to deploy: source, destination or a module id")
	pf.StringVarP(&flagParameters, "parameters", "p", "", "parameters file (YAML or JSON)")
	pf.StringArrayVar(&flagParams, "param", nil, "parameter override Module.name=value (repeatable)")
	pf.BoolVar(&flagWireAdapter, "wire-adapter", true, "register the adapter with the bridge in the same run")
}

// app holds what every command shares after configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *artifacts.Registry
	store    repository.Store
	postgres *database.Postgres
	redis    *database.Redis
}

func newApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg, err := config.Load(config.Options{ConfigFile: flagConfig, EnvFile: flagEnvFile})
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	logger, err := newLogger(out, cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newLogger(out io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", cfg.Format)
}

func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.State.Driver {
	case "postgres":
		if err := database.RunMigrations(a.cfg.Database); err != nil {
			return err
		}
		pg, err := database.NewPostgres(ctx, a.cfg.Database)
		if err != nil {
			return err
		}
		a.postgres = pg
		a.store = repository.NewPostgresStore(pg.Pool())
		a.logger.Debug("using postgres state store", slog.String("database", a.cfg.Database.Database))
	default:
		fs, err := repository.NewFileStore(a.cfg.State.Dir)
		if err != nil {
			return err
		}
		a.store = fs
		a.logger.Debug("using file state store", slog.String("dir", fs.Dir()))
	}
	return nil
}

func (a *app) locker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.Lock.Driver != "redis" {
		return lock.NewLocalLocker(a.cfg.State.Dir)
	}
	if a.redis == nil {
		r, err := database.NewRedis(ctx, a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = r
	}
	return lock.NewRedisLocker(a.redis.Client(), a.cfg.Lock.TTL, a.logger), nil
}

func (a *app) artifacts() (*artifacts.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	reg, err := artifacts.LoadDir(a.cfg.Artifacts.Dir)
	if err != nil {
		return nil, err
	}
	a.registry = reg
	return reg, nil
}

func (a *app) network() (config.NetworkConfig, error) {
	if flagNetwork == "" {
		return config.NetworkConfig{}, fmt.Errorf("--network is required (known: %s)", strings.Join(a.cfg.NetworkNames(), ", "))
	}
	return a.cfg.Network(flagNetwork)
}

// Close releases every connection the app opened.
func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.postgres != nil {
		a.postgres.Close()
	}
}

// buildPlan composes the selected module and resolves its parameters for
// the given signing accounts.
func buildPlan(accounts []common.Address) (*plan.Plan, *plan.Resolved, error) {
	def, err := bridge.ModuleByName(flagModule, bridge.Options{AutoWireAdapter: flagWireAdapter})
	if err != nil {
		return nil, nil, err
	}
	p, err := plan.Build(def)
	if err != nil {
		return nil, nil, err
	}

	params, err := loadParameters(flagParameters, flagParams)
	if err != nil {
		return nil, nil, err
	}
	resolved, err := plan.Resolve(p, params, accounts)
	if err != nil {
		return nil, nil, err
	}
	return p, resolved, nil
}

func loadParameters(path string, overrides []string) (plan.Parameters, error) {
	params := plan.Parameters{}
	if path != "" {
		fromFile, err := plan.LoadParameters(path)
		if err != nil {
			return nil, err
		}
		params.Merge(fromFile)
	}
	for _, o := range overrides {
		module, name, value, err := plan.ParseOverride(o)
		if err != nil {
			return nil, err
		}
		params.Set(module, name, value)
	}
	return params, nil
}
