// Package config loads h2otest settings from flags, H2OTEST_* environment
// variables and an optional YAML config file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/h2oai/h2o-3-sub001/internal/suite"
)

const (
	envPrefix      = "H2OTEST"
	configFileName = ".h2otest"

	defaultClouds         = 1
	defaultNodes          = 1
	defaultBasePort       = 40000
	defaultIP             = "127.0.0.1"
	defaultNodeBin        = "java"
	defaultTestDir        = "."
	defaultResultsDir     = "results"
	defaultReadyTimeout   = 120 * time.Second
	defaultAcquireTimeout = 60 * time.Minute
	defaultHealthTimeout  = 10 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultRBin           = "R"
	defaultPythonBin      = "python"
	defaultPhantomJSBin   = "phantomjs"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
)

// Config holds every h2otest setting.
type Config struct {
	// Clouds
	Clouds   int      `mapstructure:"clouds"`
	Nodes    int      `mapstructure:"nodes"`
	BasePort int      `mapstructure:"baseport"`
	Xmx      string   `mapstructure:"xmx"`
	Jar      string   `mapstructure:"jar"`
	NodeBin  string   `mapstructure:"node-bin"`
	JVMArgs  []string `mapstructure:"jvm-args"`
	IP       string   `mapstructure:"ip"`
	UseCloud string   `mapstructure:"usecloud"`

	// Test selection
	TestDir     string `mapstructure:"test-dir"`
	ResultsDir  string `mapstructure:"results-dir"`
	Size        string `mapstructure:"size"`
	TestList    string `mapstructure:"test-list"`
	ExcludeList string `mapstructure:"exclude-list"`
	RerunFailed bool   `mapstructure:"rerun-failed"`
	OnlyNoPass  bool   `mapstructure:"only-nopass"`
	NoInternal  bool   `mapstructure:"no-internal"`

	// Scheduling
	TolerateUnhealthy bool          `mapstructure:"tolerate-unhealthy"`
	ReadyTimeout      time.Duration `mapstructure:"ready-timeout"`
	AcquireTimeout    time.Duration `mapstructure:"acquire-timeout"`
	HealthTimeout     time.Duration `mapstructure:"health-timeout"`
	PollInterval      time.Duration `mapstructure:"poll-interval"`

	// Drivers
	RBin         string `mapstructure:"r-bin"`
	PythonBin    string `mapstructure:"python-bin"`
	PhantomJSBin string `mapstructure:"phantomjs-bin"`

	// Output
	JUnit      bool   `mapstructure:"junit"`
	StatusAddr string `mapstructure:"status-addr"`
	HistoryDB  string `mapstructure:"history-db"`
	LogLevel   string `mapstructure:"log-level"`
	LogFormat  string `mapstructure:"log-format"`
}

// AddFlags registers the run flags on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.Int("clouds", defaultClouds, "number of clouds to start")
	fs.Int("nodes", defaultNodes, "nodes per cloud")
	fs.Int("baseport", defaultBasePort, "first port of the node port range")
	fs.String("xmx", "", "heap size for each node, e.g. 4g")
	fs.String("jar", "", "worker jar; when empty --node-bin is run directly")
	fs.String("node-bin", defaultNodeBin, "java binary, or the node binary when --jar is empty")
	fs.StringSlice("jvm-args", nil, "extra JVM arguments for each node")
	fs.String("ip", defaultIP, "address nodes bind to")
	fs.String("usecloud", "", "run against an existing cloud at ip:port instead of starting clouds")

	fs.String("test-dir", defaultTestDir, "test tree to discover tests in")
	fs.String("results-dir", defaultResultsDir, "directory for logs and reports")
	fs.String("size", "", "comma separated sizes to run: s,m,l,xl (default all)")
	fs.String("test-list", "", "file listing the tests to run, one per line")
	fs.String("exclude-list", "", "file listing tests to skip, one per line")
	fs.Bool("rerun-failed", false, "run the tests listed in <results-dir>/failed.txt")
	fs.Bool("only-nopass", false, "run only NOPASS tests")
	fs.Bool("no-internal", false, "skip INTERNAL tests")

	fs.Bool("tolerate-unhealthy", false, "park clouds failing a health check instead of condemning them")
	fs.Duration("ready-timeout", defaultReadyTimeout, "time allowed for each node to become ready")
	fs.Duration("acquire-timeout", defaultAcquireTimeout, "time allowed to wait for a free cloud")
	fs.Duration("health-timeout", defaultHealthTimeout, "timeout of one health check request")
	fs.Duration("poll-interval", defaultPollInterval, "sleep between polls of running jobs")

	fs.String("r-bin", defaultRBin, "R interpreter")
	fs.String("python-bin", defaultPythonBin, "Python interpreter")
	fs.String("phantomjs-bin", defaultPhantomJSBin, "PhantomJS binary for browser tests")

	fs.Bool("junit", false, "write one JUnit XML file per test")
	fs.String("status-addr", "", "serve run status on this address, e.g. :8080")
	fs.String("history-db", "", "record runs in this SQLite database")
}

// AddLogFlags registers the logging flags on fs.
func AddLogFlags(fs *pflag.FlagSet) {
	fs.String("log-level", defaultLogLevel, "log level: debug, info, warn, error")
	fs.String("log-format", defaultLogFormat, "log format: text or json")
}

// Load binds fs into v and reads the environment and the config file. An empty
// cfgFile means ~/.h2otest.yaml, which may be absent.
func Load(v *viper.Viper, fs *pflag.FlagSet, cfgFile string) (Config, error) {
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return Config{}, fmt.Errorf("find home directory: %w", err)
		}
		v.AddConfigPath(home)
		v.SetConfigName(configFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.RerunFailed {
		cfg.TestList = filepath.Join(cfg.ResultsDir, suite.FailedListName)
	}
	return cfg, cfg.Validate()
}

// Validate checks settings that flags alone cannot constrain.
func (c Config) Validate() error {
	var errs []string
	if c.UseCloud == "" {
		if c.Clouds < 1 {
			errs = append(errs, "clouds must be at least 1")
		}
		if c.Nodes < 1 {
			errs = append(errs, "nodes must be at least 1")
		}
		if c.BasePort < 1 || c.BasePort > 65535 {
			errs = append(errs, "baseport must be a valid port")
		}
	}
	if c.ResultsDir == "" {
		errs = append(errs, "results-dir must be set")
	}
	if _, err := suite.ParseSizes(c.Size); err != nil {
		errs = append(errs, err.Error())
	}
	if c.RerunFailed {
		if _, err := os.Stat(c.TestList); err != nil {
			errs = append(errs, fmt.Sprintf("rerun-failed: %v", err))
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"ready-timeout", c.ReadyTimeout},
		{"acquire-timeout", c.AcquireTimeout},
		{"health-timeout", c.HealthTimeout},
		{"poll-interval", c.PollInterval},
	} {
		if d.value <= 0 {
			errs = append(errs, d.name+" must be positive")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
