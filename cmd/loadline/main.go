package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"loadline/internal/app"
	"loadline/internal/config"
	"loadline/internal/db"
	"loadline/internal/domain"
	"loadline/internal/engine"
	"loadline/internal/lock"
	"loadline/internal/logging"
	"loadline/internal/migrate"
	"loadline/internal/repo"
)

var rootCmd = &cobra.Command{
	Use:   "loadline",
	Short: "Resource capacity and conflict detection",
	Long: `loadline records how much of each person's time is booked across projects and keeps a
per-day list of over-allocation conflicts in step with those bookings.
- Resource: a person from the directory; only active resources accept new bookings.
- Allocation: a percentage of a resource's day over an inclusive date span (HARD, SOFT or GHOST).
- Capacity: 100% per day unless an explicit hours entry says otherwise.
- Conflict: a day whose weighted load exceeds capacity, with a severity band.
Every booking change recomputes the affected days under a per-resource lock.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	_ = godotenv.Load()
	viper.SetEnvPrefix("LOADLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	def := config.DefaultRuntime()
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", def.Workspace, "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", def.Actor, "actor identifier recorded on events")
	flags.String("org", "", "organization id (defaults to the only one)")
	flags.String("lock-backend", def.Lock.Backend, "lock backend: memory, redis or postgres")
	flags.Duration("lock-ttl", def.Lock.TTL, "maximum time a recomputation holds a resource lock")
	flags.Duration("lock-wait", def.Lock.Wait, "how long to wait for a resource lock")
	flags.String("redis-addr", "", "redis address for the redis lock backend")
	flags.String("redis-password", "", "redis password")
	flags.Int("redis-db", 0, "redis database")
	flags.String("postgres-url", "", "postgres url for the postgres lock backend")
	flags.String("log-level", def.Logging.Level, "log level")
	flags.String("log-file", "", "also write JSON logs to this rotating file")
	flags.Bool("log-json", false, "log JSON to stderr")
	for _, name := range []string{
		"workspace", "json", "actor-id", "org", "lock-backend", "lock-ttl", "lock-wait",
		"redis-addr", "redis-password", "redis-db", "postgres-url", "log-level", "log-file", "log-json",
	} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(resourceCmd())
	rootCmd.AddCommand(capacityCmd())
	rootCmd.AddCommand(allocCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(conflictCmd())
	rootCmd.AddCommand(recomputeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(notifyCmd())
}

func runtimeSettings() (config.Runtime, error) {
	rt := config.Runtime{
		Workspace:    viper.GetString("workspace"),
		Organization: viper.GetString("org"),
		Actor:        viper.GetString("actor-id"),
		Lock: config.LockConfig{
			Backend: viper.GetString("lock-backend"),
			TTL:     viper.GetDuration("lock-ttl"),
			Wait:    viper.GetDuration("lock-wait"),
			Redis: config.RedisConfig{
				Addr:     viper.GetString("redis-addr"),
				Password: viper.GetString("redis-password"),
				DB:       viper.GetInt("redis-db"),
			},
			PostgresURL: viper.GetString("postgres-url"),
		},
		Logging: config.LoggingConfig{
			Level: viper.GetString("log-level"),
			File:  viper.GetString("log-file"),
			JSON:  viper.GetBool("log-json"),
		},
	}
	return rt, rt.Validate()
}

// --- helpers ---

type session struct {
	Engine  engine.Engine
	Runtime config.Runtime
	Logger  *zap.Logger
}

func withEngine(ctx context.Context, fn func(context.Context, session) error) error {
	rt, err := runtimeSettings()
	if err != nil {
		return err
	}
	logger, flush, err := logging.New(rt.Logging)
	if err != nil {
		return err
	}
	defer flush()

	conn, err := db.Open(db.Config{Workspace: rt.Workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOrgAndConfig(ctx, rt.Workspace, rt.Organization, r)
	if err != nil {
		return err
	}
	locker, closeLocker, err := lock.Open(ctx, rt.Lock, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	e := engine.New(conn, cfg,
		engine.WithLogger(logger),
		engine.WithLocker(locker),
		engine.WithLockTiming(rt.Lock.TTL, rt.Lock.Wait),
	)
	return fn(ctx, session{Engine: e, Runtime: rt, Logger: logger})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDate(flag, value string) (domain.Date, error) {
	d, err := domain.ParseDate(value)
	if err != nil {
		return domain.Date{}, fmt.Errorf("--%s: %w", flag, err)
	}
	return d, nil
}

func parseRange(from, to string) (domain.DateRange, error) {
	start, err := parseDate("from", from)
	if err != nil {
		return domain.DateRange{}, err
	}
	end := start
	if to != "" {
		if end, err = parseDate("to", to); err != nil {
			return domain.DateRange{}, err
		}
	}
	return domain.DateRange{Start: start, End: end}, nil
}

// optionalRange returns nil when neither bound is set.
func optionalRange(from, to string) (*domain.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	if from == "" {
		from = to
	}
	rng, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}
	return &rng, nil
}

func parseDecimal(flag, value string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %q is not a number", flag, value)
	}
	return v, nil
}
