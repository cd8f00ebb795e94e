// Package config loads the relay configuration: a list of accounts, each
// bound to one signal feed and one exchange account, plus global sections
// for logging, reporting and the status server.
package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/sigrelay/internal/domain"
)

const (
	ExchangeBinance     = "binance"
	ExchangeBybit       = "bybit"
	ExchangeHyperliquid = "hyperliquid"
	ExchangeSimulate    = "simulate"
)

const (
	defaultFeeRate          = "0.001"
	defaultRetryLimit       = 10
	defaultShrinkFactor     = "0.002"
	defaultOrderBackoff     = 50 * time.Millisecond
	defaultOrderMaxBackoff  = 2 * time.Second
	defaultReconnectInitial = 1 * time.Second
	defaultReconnectMax     = 60 * time.Second
	defaultReconnectFactor  = 2.0
	defaultOrdersPerSecond  = 5.0
	defaultSimulateQuote    = "10000"
	defaultSimulateAsset    = "USDT"
	defaultRestartDelay     = 30 * time.Second
	defaultLogLevel         = "info"
	defaultRedisChannel     = "sigrelay"
)

// Config is the whole relay configuration.
type Config struct {
	LogLevel     string
	RestartDelay time.Duration
	Web          Web
	Report       Report
	Accounts     []Account
}

// Web configures the status server. Empty Addr disables it.
type Web struct {
	Addr       string
	TLSDomains []string
	CertCache  string
}

// Report configures reporting sinks besides the structured log.
type Report struct {
	Console      bool
	JournalDir   string
	RedisAddr    string
	RedisChannel string
}

// Account static configuration of one relayed account.
type Account struct {
	Name     string
	Endpoint string
	Token    string
	Exchange Exchange
	DryRun   bool
	FeeRate  decimal.Decimal
	Retry    Retry
	// Reconnect is the backoff between feed/pipeline restarts.
	Reconnect Reconnect
	// KeepAlive is the websocket ping interval, zero disables pings.
	KeepAlive       time.Duration
	OrdersPerSecond float64
}

// Exchange credentials and options of the exchange account.
type Exchange struct {
	Name    string
	Key     string
	Secret  string
	BaseURL string
	// SimulateQuote is the starting balance of SimulateAsset in the paper wallet.
	SimulateQuote decimal.Decimal
	SimulateAsset string
	// SimulateStateDir keeps the paper wallet across restarts, empty keeps it in memory only.
	SimulateStateDir string
}

// Retry order placement retry policy.
type Retry struct {
	Limit        int
	ShrinkFactor decimal.Decimal
	Backoff      time.Duration
	MaxBackoff   time.Duration
}

// Reconnect exponential backoff parameters.
type Reconnect struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NormalizeEndpoint trims trailing slashes and adds the ws scheme to a
// bare host:port.
func NormalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint != "" && !strings.Contains(endpoint, "://") {
		endpoint = "ws://" + endpoint
	}
	return endpoint
}

// EndpointHost returns host:port of the feed, used to identify the account in logs.
func (a Account) EndpointHost() string {
	u, err := url.Parse(NormalizeEndpoint(a.Endpoint))
	if err != nil || u.Host == "" {
		return a.Endpoint
	}
	return u.Host
}

type configTmp struct {
	LogLevel     string        `yaml:"log_level"`
	RestartDelay time.Duration `yaml:"restart_delay"`
	Web          struct {
		Addr       string   `yaml:"addr"`
		TLSDomains []string `yaml:"tls_domains"`
		CertCache  string   `yaml:"cert_cache"`
	} `yaml:"web"`
	Report struct {
		Console      *bool  `yaml:"console"`
		JournalDir   string `yaml:"journal_dir"`
		RedisAddr    string `yaml:"redis_addr"`
		RedisChannel string `yaml:"redis_channel"`
	} `yaml:"report"`
	Accounts []accountTmp `yaml:"accounts"`
}

type accountTmp struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	Exchange struct {
		Name             string `yaml:"name"`
		Key              string `yaml:"key"`
		Secret           string `yaml:"secret"`
		BaseURL          string `yaml:"base_url,omitempty"`
		SimulateQuoteStr string `yaml:"simulate_quote,omitempty"`
		SimulateAsset    string `yaml:"simulate_asset,omitempty"`
		SimulateStateDir string `yaml:"simulate_state_dir,omitempty"`
	} `yaml:"exchange"`
	DryRun     bool   `yaml:"dry_run"`
	FeeRateStr string `yaml:"fee,omitempty"`
	Retry      struct {
		Limit           int           `yaml:"limit,omitempty"`
		ShrinkFactorStr string        `yaml:"shrink_factor,omitempty"`
		Backoff         time.Duration `yaml:"backoff,omitempty"`
		MaxBackoff      time.Duration `yaml:"max_backoff,omitempty"`
	} `yaml:"retry"`
	Reconnect struct {
		Initial    time.Duration `yaml:"initial,omitempty"`
		Max        time.Duration `yaml:"max,omitempty"`
		Multiplier float64       `yaml:"multiplier,omitempty"`
	} `yaml:"reconnect"`
	KeepAlive       time.Duration `yaml:"keep_alive,omitempty"`
	OrdersPerSecond float64       `yaml:"orders_per_second,omitempty"`
}

// Options are the command line options.
type Options struct {
	ConfigPath string
	Setup      bool
}

// ParseFlags reads command line options.
func ParseFlags() Options {
	path := flag.String("config", "config.yaml", "path to yaml config")
	setup := flag.Bool("setup", false, "run interactive configuration wizard")
	flag.Parse()

	return Options{ConfigPath: *path, Setup: *setup}
}

// Load reads and parses a yaml config file.
func Load(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(f)
}

// Parse parses yaml config data and applies defaults. Secrets may reference
// environment variables as ${VAR}. Accounts are not validated here, see
// Config.Validate.
func Parse(data []byte) (Config, error) {
	var tmp configTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "parse yaml config")
	}

	conf := Config{
		LogLevel:     tmp.LogLevel,
		RestartDelay: tmp.RestartDelay,
		Web: Web{
			Addr:       tmp.Web.Addr,
			TLSDomains: tmp.Web.TLSDomains,
			CertCache:  tmp.Web.CertCache,
		},
		Report: Report{
			Console:      true,
			JournalDir:   tmp.Report.JournalDir,
			RedisAddr:    os.ExpandEnv(tmp.Report.RedisAddr),
			RedisChannel: tmp.Report.RedisChannel,
		},
	}
	if conf.LogLevel == "" {
		conf.LogLevel = defaultLogLevel
	}
	if conf.RestartDelay <= 0 {
		conf.RestartDelay = defaultRestartDelay
	}
	if tmp.Report.Console != nil {
		conf.Report.Console = *tmp.Report.Console
	}
	if conf.Report.RedisChannel == "" {
		conf.Report.RedisChannel = defaultRedisChannel
	}

	for i, c := range tmp.Accounts {
		acc, err := c.toAccount(i)
		if err != nil {
			return Config{}, err
		}
		conf.Accounts = append(conf.Accounts, acc)
	}

	return conf, nil
}

func (c accountTmp) toAccount(i int) (Account, error) {
	name := c.Name
	if name == "" {
		name = fmt.Sprintf("account-%d", i+1)
	}

	acc := Account{
		Name:     name,
		Endpoint: NormalizeEndpoint(os.ExpandEnv(c.Endpoint)),
		Token:    os.ExpandEnv(c.Token),
		Exchange: Exchange{
			Name:             strings.ToLower(strings.TrimSpace(c.Exchange.Name)),
			Key:              os.ExpandEnv(c.Exchange.Key),
			Secret:           os.ExpandEnv(c.Exchange.Secret),
			BaseURL:          c.Exchange.BaseURL,
			SimulateAsset:    strings.ToUpper(c.Exchange.SimulateAsset),
			SimulateStateDir: c.Exchange.SimulateStateDir,
		},
		DryRun: c.DryRun,
		Retry: Retry{
			Limit:      c.Retry.Limit,
			Backoff:    c.Retry.Backoff,
			MaxBackoff: c.Retry.MaxBackoff,
		},
		Reconnect: Reconnect{
			Initial:    c.Reconnect.Initial,
			Max:        c.Reconnect.Max,
			Multiplier: c.Reconnect.Multiplier,
		},
		KeepAlive:       c.KeepAlive,
		OrdersPerSecond: c.OrdersPerSecond,
	}

	// fall back to <EXCHANGE>_API_KEY / <EXCHANGE>_API_SECRET
	envPrefix := strings.ToUpper(acc.Exchange.Name)
	if acc.Exchange.Key == "" {
		acc.Exchange.Key = os.Getenv(envPrefix + "_API_KEY")
	}
	if acc.Exchange.Secret == "" {
		acc.Exchange.Secret = os.Getenv(envPrefix + "_API_SECRET")
	}

	var err error
	if acc.FeeRate, err = decimalOrDefault(c.FeeRateStr, defaultFeeRate); err != nil {
		return Account{}, errors.Wrapf(err, "incorrect 'fee' param for account %s (must be a decimal)", name)
	}
	if acc.Retry.ShrinkFactor, err = decimalOrDefault(c.Retry.ShrinkFactorStr, defaultShrinkFactor); err != nil {
		return Account{}, errors.Wrapf(err, "incorrect 'retry.shrink_factor' param for account %s (must be a decimal)", name)
	}
	if acc.Exchange.SimulateQuote, err = decimalOrDefault(c.Exchange.SimulateQuoteStr, defaultSimulateQuote); err != nil {
		return Account{}, errors.Wrapf(err, "incorrect 'exchange.simulate_quote' param for account %s (must be a decimal)", name)
	}

	if acc.Exchange.SimulateAsset == "" {
		acc.Exchange.SimulateAsset = defaultSimulateAsset
	}
	if acc.Retry.Limit == 0 {
		acc.Retry.Limit = defaultRetryLimit
	}
	if acc.Retry.Backoff == 0 {
		acc.Retry.Backoff = defaultOrderBackoff
	}
	if acc.Retry.MaxBackoff == 0 {
		acc.Retry.MaxBackoff = defaultOrderMaxBackoff
	}
	if acc.Reconnect.Initial == 0 {
		acc.Reconnect.Initial = defaultReconnectInitial
	}
	if acc.Reconnect.Max == 0 {
		acc.Reconnect.Max = defaultReconnectMax
	}
	if acc.Reconnect.Multiplier == 0 {
		acc.Reconnect.Multiplier = defaultReconnectFactor
	}
	if acc.OrdersPerSecond == 0 {
		acc.OrdersPerSecond = defaultOrdersPerSecond
	}

	return acc, nil
}

func decimalOrDefault(s, def string) (decimal.Decimal, error) {
	if s == "" {
		s = def
	}
	return decimal.NewFromString(s)
}

// Validate checks one account. The returned error is a *domain.ConfigError.
func (a Account) Validate() error {
	fail := func(field, reason string) error {
		return &domain.ConfigError{Account: a.Name, Field: field, Reason: reason}
	}

	u, err := url.Parse(NormalizeEndpoint(a.Endpoint))
	if a.Endpoint == "" || err != nil {
		return fail("endpoint", "must be host:port or a ws:// or wss:// URI")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fail("endpoint", fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return fail("endpoint", "host is required")
	}
	if a.Token == "" {
		return fail("token", "is required")
	}

	switch a.Exchange.Name {
	case ExchangeBinance, ExchangeBybit:
		if a.Exchange.Key == "" || a.Exchange.Secret == "" {
			return fail("exchange", "key and secret are required for "+a.Exchange.Name)
		}
	case ExchangeHyperliquid:
		if a.Exchange.Secret == "" {
			return fail("exchange.secret", "hyperliquid private key is required")
		}
	case ExchangeSimulate:
		if !a.Exchange.SimulateQuote.IsPositive() {
			return fail("exchange.simulate_quote", "must be positive")
		}
	case "":
		return fail("exchange.name", "is required")
	default:
		return fail("exchange.name", fmt.Sprintf("unsupported exchange %q", a.Exchange.Name))
	}

	if a.FeeRate.IsNegative() || a.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fail("fee", "must be in [0, 1)")
	}
	if a.Retry.Limit < 1 {
		return fail("retry.limit", "must be at least 1")
	}
	if !a.Retry.ShrinkFactor.IsPositive() || a.Retry.ShrinkFactor.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fail("retry.shrink_factor", "must be in (0, 1)")
	}
	if a.Retry.MaxBackoff < a.Retry.Backoff {
		return fail("retry.max_backoff", "must not be less than retry.backoff")
	}
	if a.Reconnect.Max < a.Reconnect.Initial {
		return fail("reconnect.max", "must not be less than reconnect.initial")
	}
	if a.Reconnect.Multiplier < 1 {
		return fail("reconnect.multiplier", "must be at least 1")
	}
	if a.KeepAlive < 0 {
		return fail("keep_alive", "must not be negative")
	}
	if a.OrdersPerSecond <= 0 {
		return fail("orders_per_second", "must be positive")
	}

	return nil
}

// Validate splits accounts into usable ones and per-account errors. Names
// must be unique: exactly one pipeline runs per account.
func (c Config) Validate() ([]Account, []error) {
	var (
		valid []Account
		errs  []error
		seen  = make(map[string]struct{}, len(c.Accounts))
	)

	for _, acc := range c.Accounts {
		if _, dup := seen[acc.Name]; dup {
			errs = append(errs, &domain.ConfigError{Account: acc.Name, Field: "name", Reason: "duplicate account name"})
			continue
		}
		seen[acc.Name] = struct{}{}

		if err := acc.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		valid = append(valid, acc)
	}

	return valid, errs
}

// AccountDraft is the subset of account settings the setup wizard asks for.
type AccountDraft struct {
	Name          string
	Endpoint      string
	Token         string
	Exchange      string
	Key           string
	Secret        string
	SimulateQuote string
	DryRun        bool
}

// RenderYAML produces a config file holding the drafted accounts. Options
// not covered by a draft are left out so defaults apply when it is loaded.
func RenderYAML(drafts []AccountDraft) ([]byte, error) {
	file := struct {
		Accounts []accountTmp `yaml:"accounts"`
	}{}

	for _, d := range drafts {
		var acc accountTmp
		acc.Name = d.Name
		acc.Endpoint = d.Endpoint
		acc.Token = d.Token
		acc.Exchange.Name = d.Exchange
		acc.Exchange.Key = d.Key
		acc.Exchange.Secret = d.Secret
		acc.Exchange.SimulateQuoteStr = d.SimulateQuote
		acc.DryRun = d.DryRun
		file.Accounts = append(file.Accounts, acc)
	}

	data, err := yaml.Marshal(file)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config")
	}
	return data, nil
}
