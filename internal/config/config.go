// Package config centralizes loader configuration. Every tunable is a
// command-line flag whose default is seeded from an environment variable
// (12-factor friendly), and a .env file, when present, seeds the
// environment first. Flags are defined before parsing so `-help` lists them
// all with their effective defaults.
//
// Typical usage:
//
//	config.LoadDotEnv(".env")
//	cfg := config.Load()
//
// Tests use LoadFromArgs with a private FlagSet and a map-backed getenv.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Modes accepted by -mode.
const (
	ModeLoad        = "load"
	ModeSchema      = "schema"
	ModeConsolidate = "consolidate"
)

// Config holds all process configuration. Profile-shaped settings live in
// Profile; Config only carries what differs per invocation.
type Config struct {
	Mode string // load | schema | consolidate

	// Profile selection and per-run overrides.
	Profile        string   // built-in profile name
	ProfileFile    string   // JSON profile; wins over Profile
	Validation     string   // overrides the profile's gate/skip policy when set
	CustomerPolicy string   // overrides the profile's append/dedup policy when set
	Year           string   // default year for folder-derived periods
	Sheets         []string // xlsx sheets to read; empty reads all

	// IO
	Input       string // file, folder or s3://bucket/key
	Delimiter   rune   // CSV delimiter
	RejectDir   string // where the rejection workbook goes; empty = next to the input
	SkippedDir  string // directory for skipped-row CSV logs
	PlanCatalog string // optional xlsx/csv with id_plan,descripcion_plan
	CleanCopy   bool   // write copia-<input>.xlsx with the normalized rows
	Workers     int    // parallel file reads for folder inputs

	// DB describes the target database. For Postgres the DSN may be built
	// from the discrete parts.
	DBDriver   string // postgres | sqlite | mssql
	DSN        string
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	InitSchema bool   // create tables and seed year/month lookups before loading
	SeedYears  string // inclusive year range seeded into anio, e.g. "2020-2035"

	// Metrics
	MetricsBackend string // none | pushgateway | datadog
	PushgatewayURL string
	DatadogAddr    string

	// S3 input and report archive
	S3Region      string
	S3Endpoint    string
	S3PathStyle   bool
	S3AccessKey   string // optional static credentials; default AWS chain otherwise
	S3SecretKey   string
	ArchiveBucket string

	// Consolidation
	ConsolidatePeriod   int64
	ConsolidateOrigin   string
	ConsolidateProvider string
	TargetDriver        string
	TargetDSN           string
}

// LoadFromArgs builds a Config by defining flags on fs, seeding each default
// from getenv, and parsing args. Explicit flags win over the environment.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) *Config {
	cfg := &Config{}

	envOrDefaultFn := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	intEnvOrDefaultFn := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(v); err == nil {
				return i
			}
		}
		return d
	}
	boolEnvOrDefaultFn := func(k string, d bool) bool {
		if v := strings.ToLower(getenv(k)); v != "" {
			switch v {
			case "1", "true", "yes", "on":
				return true
			case "0", "false", "no", "off":
				return false
			}
		}
		return d
	}

	var sheets, delimiter string
	var period int

	fs.StringVar(&cfg.Mode, "mode", envOrDefaultFn("LOADER_MODE", ModeLoad), "load | schema | consolidate")

	// Profile
	fs.StringVar(&cfg.Profile, "profile", envOrDefaultFn("LOADER_PROFILE", "pospago"), "Built-in profile: "+strings.Join(ProfileNames(), ", "))
	fs.StringVar(&cfg.ProfileFile, "profile_file", getenv("LOADER_PROFILE_FILE"), "JSON profile file (overrides -profile)")
	fs.StringVar(&cfg.Validation, "validation", getenv("LOADER_VALIDATION"), "Override validation policy: gate | skip")
	fs.StringVar(&cfg.CustomerPolicy, "customer_policy", getenv("LOADER_CUSTOMER_POLICY"), "Override customer policy: append | dedup")
	fs.StringVar(&cfg.Year, "year", getenv("LOADER_YEAR"), "Default year for rows without a year column")
	fs.StringVar(&sheets, "sheets", getenv("LOADER_SHEETS"), "Comma-separated xlsx sheets to read (default all)")

	// IO
	fs.StringVar(&cfg.Input, "input", getenv("LOADER_INPUT"), "Input file, folder or s3://bucket/key")
	fs.StringVar(&delimiter, "delimiter", envOrDefaultFn("CSV_DELIMITER", ","), "CSV delimiter")
	fs.StringVar(&cfg.RejectDir, "reject_dir", getenv("REJECT_DIR"), "Directory for rejection workbooks (default: input directory)")
	fs.StringVar(&cfg.SkippedDir, "skipped_dir", envOrDefaultFn("SKIPPED_DIR", "./skipped"), "Directory for writing skipped-rows CSV logs")
	fs.StringVar(&cfg.PlanCatalog, "plan_catalog", getenv("PLAN_CATALOG"), "Optional plan catalog (id_plan, descripcion_plan)")
	fs.BoolVar(&cfg.CleanCopy, "clean_copy", boolEnvOrDefaultFn("CLEAN_COPY", false), "Write copia-<input>.xlsx with normalized rows")
	fs.IntVar(&cfg.Workers, "workers", intEnvOrDefaultFn("WORKERS", 4), "Parallel file reads for folder inputs")

	// DB connectivity
	fs.StringVar(&cfg.DBDriver, "db_driver", envOrDefaultFn("DB_DRIVER", "postgres"), "Database driver: postgres | sqlite | mssql")
	fs.StringVar(&cfg.DSN, "dsn", getenv("DB_DSN"), "Full DSN (required for sqlite and mssql)")
	fs.StringVar(&cfg.DBUser, "db_user", envOrDefaultFn("DB_USER", "postgres"), "DB user")
	fs.StringVar(&cfg.DBPassword, "db_password", getenv("DB_PASSWORD"), "DB password")
	fs.StringVar(&cfg.DBHost, "db_host", envOrDefaultFn("DB_HOST", "localhost"), "DB host")
	fs.StringVar(&cfg.DBPort, "db_port", envOrDefaultFn("DB_PORT", "5432"), "DB port")
	fs.StringVar(&cfg.DBName, "db_name", envOrDefaultFn("DB_NAME", "pospago"), "DB name")
	fs.BoolVar(&cfg.InitSchema, "init_schema", boolEnvOrDefaultFn("INIT_SCHEMA", false), "Create tables and seed lookups before loading")
	fs.StringVar(&cfg.SeedYears, "seed_years", envOrDefaultFn("SEED_YEARS", "2020-2035"), "Year range seeded into anio")

	// Metrics
	fs.StringVar(&cfg.MetricsBackend, "metrics_backend", envOrDefaultFn("METRICS_BACKEND", "none"), "none | pushgateway | datadog")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway_url", getenv("PUSHGATEWAY_URL"), "Prometheus Pushgateway URL")
	fs.StringVar(&cfg.DatadogAddr, "datadog_addr", envOrDefaultFn("DD_DOGSTATSD_ADDR", "127.0.0.1:8125"), "DogStatsD address")

	// S3
	fs.StringVar(&cfg.S3Region, "s3_region", envOrDefaultFn("S3_REGION", "us-east-1"), "S3 region")
	fs.StringVar(&cfg.S3Endpoint, "s3_endpoint", getenv("S3_ENDPOINT"), "S3-compatible endpoint (MinIO)")
	fs.BoolVar(&cfg.S3PathStyle, "s3_path_style", boolEnvOrDefaultFn("S3_PATH_STYLE", false), "Use path-style S3 addressing")
	fs.StringVar(&cfg.S3AccessKey, "s3_access_key_id", getenv("S3_ACCESS_KEY_ID"), "Static S3 access key (MinIO)")
	fs.StringVar(&cfg.S3SecretKey, "s3_secret_access_key", getenv("S3_SECRET_ACCESS_KEY"), "Static S3 secret key (MinIO)")
	fs.StringVar(&cfg.ArchiveBucket, "archive_bucket", getenv("ARCHIVE_BUCKET"), "Upload rejection workbooks and skip logs to this bucket")

	// Consolidation
	fs.IntVar(&period, "consolidate_period", intEnvOrDefaultFn("CONSOLIDATE_PERIOD", 0), "Period id to copy into cliente_consolidado")
	fs.StringVar(&cfg.ConsolidateOrigin, "consolidate_origin", getenv("CONSOLIDATE_ORIGIN"), "Origin label (default: profile name uppercased)")
	fs.StringVar(&cfg.ConsolidateProvider, "consolidate_provider", getenv("CONSOLIDATE_PROVIDER"), "Provider label")
	fs.StringVar(&cfg.TargetDriver, "target_driver", getenv("TARGET_DB_DRIVER"), "Consolidation target driver (default: db_driver)")
	fs.StringVar(&cfg.TargetDSN, "target_dsn", getenv("TARGET_DB_DSN"), "Consolidation target DSN")

	if args == nil {
		args = []string{}
	}
	_ = fs.Parse(args)

	cfg.Sheets = splitList(sheets)
	if r := []rune(delimiter); len(r) > 0 {
		cfg.Delimiter = r[0]
	}
	cfg.ConsolidatePeriod = int64(period)
	if cfg.TargetDriver == "" {
		cfg.TargetDriver = cfg.DBDriver
	}
	return cfg
}

// LoadFrom is LoadFromArgs without explicit args.
func LoadFrom(fs *flag.FlagSet, getenv func(string) string) *Config {
	return LoadFromArgs(fs, getenv, nil)
}

// Load is the production entry point: flag.CommandLine, os.Getenv, os.Args.
func Load() *Config {
	return LoadFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

// LoadDotEnv seeds the process environment from the given .env files.
// Variables already set are kept, and missing files are not an error.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// PostgresDSN returns DSN or, when empty, one built from the discrete parts.
func (c *Config) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return "postgres://" + c.DBUser + ":" + c.DBPassword + "@" + c.DBHost + ":" + c.DBPort + "/" + c.DBName
}

// YearRange parses SeedYears ("2020-2035" or a single "2025").
func (c *Config) YearRange() (from, to int, err error) {
	s := strings.TrimSpace(c.SeedYears)
	if s == "" {
		return 0, 0, nil
	}
	lo, hi, found := strings.Cut(s, "-")
	if from, err = strconv.Atoi(strings.TrimSpace(lo)); err != nil {
		return 0, 0, fmt.Errorf("seed_years %q: %w", s, err)
	}
	to = from
	if found {
		if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return 0, 0, fmt.Errorf("seed_years %q: %w", s, err)
		}
	}
	if to < from {
		return 0, 0, fmt.Errorf("seed_years %q: empty range", s)
	}
	return from, to, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
