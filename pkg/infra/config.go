package infra

import (
	"io/ioutil"
	"net/url"
	"strings"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/session"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const envPrefix = "VAULTSIGN"

var (
	invalidConfigError = errors.New("invalid config")
)

type Config struct {
	// Endpoints
	RelayURL string `yaml:"relayURL"` // websocket relay shared with the dApp connector
	APIURL   string `yaml:"apiURL"`   // vault backend REST API
	Origin   string `yaml:"origin"`   // origin announced to the relay

	// Popup session opened by a dApp; empty when running as a plain dashboard
	SessionID string `yaml:"sessionId"`
	RequestID string `yaml:"requestId"`

	Account       string `yaml:"account"`       // signer address this client acts for
	WalletURL     string `yaml:"walletURL"`     // local wallet bridge that signs and summarizes
	ListenAddress string `yaml:"listenAddress"` // control and metrics endpoint
	StatePath     string `yaml:"statePath"`     // durable local storage file

	CookieExpiration int           `yaml:"cookieExpiration"` // minutes
	AckTimeout       time.Duration `yaml:"ackTimeout"`
	Reconnect        Reconnect     `yaml:"reconnect"`
	CacheSize        int           `yaml:"cacheSize"`
	CacheTTL         time.Duration `yaml:"cacheTTL"` // zero keeps queries until invalidated

	Networks []session.Network `yaml:"networks"` // seed for custom networks

	LogPath string `yaml:"logPath"` // path of the execution journal
}

type Reconnect struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	MaxElapsed      time.Duration `yaml:"maxElapsed"`
}

func defaultConfig() Config {
	return Config{
		ListenAddress:    "127.0.0.1:9470",
		StatePath:        "vaultsign-state.json",
		CookieExpiration: 60,
		AckTimeout:       3 * time.Second,
		Reconnect: Reconnect{
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
			MaxAttempts:     8,
			MaxElapsed:      2 * time.Minute,
		},
		CacheSize: 512,
		CacheTTL:  30 * time.Second,
	}
}

// LoadConfigFile fills config from the yaml file f, then applies
// VAULTSIGN_* environment overrides and validates the result.
func LoadConfigFile(config *Config, f string) error {
	*config = defaultConfig()

	raw, err := ioutil.ReadFile(f)
	if err != nil {
		return errors.Wrapf(err, "error loading %s", f)
	}
	err = yaml.Unmarshal(raw, config)
	if err != nil {
		return errors.Wrapf(err, "error unmarshal %s", f)
	}

	applyEnv(config, viper.New())

	return config.Validate()
}

func LoadConfigFromFile(f string) (Config, error) {
	var c Config
	err := LoadConfigFile(&c, f)
	return c, err
}

func applyEnv(c *Config, v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	strs := map[string]*string{
		"relayURL":      &c.RelayURL,
		"apiURL":        &c.APIURL,
		"origin":        &c.Origin,
		"sessionId":     &c.SessionID,
		"requestId":     &c.RequestID,
		"account":       &c.Account,
		"walletURL":     &c.WalletURL,
		"listenAddress": &c.ListenAddress,
		"statePath":     &c.StatePath,
		"logPath":       &c.LogPath,
	}
	for k, p := range strs {
		if v.IsSet(k) {
			*p = v.GetString(k)
		}
	}

	ints := map[string]*int{
		"cookieExpiration":      &c.CookieExpiration,
		"cacheSize":             &c.CacheSize,
		"reconnect.maxAttempts": &c.Reconnect.MaxAttempts,
	}
	for k, p := range ints {
		if v.IsSet(k) {
			*p = v.GetInt(k)
		}
	}

	durations := map[string]*time.Duration{
		"ackTimeout":                &c.AckTimeout,
		"cacheTTL":                  &c.CacheTTL,
		"reconnect.initialInterval": &c.Reconnect.InitialInterval,
		"reconnect.maxInterval":     &c.Reconnect.MaxInterval,
		"reconnect.maxElapsed":      &c.Reconnect.MaxElapsed,
	}
	for k, p := range durations {
		if v.IsSet(k) {
			*p = v.GetDuration(k)
		}
	}
}

func (c Config) Validate() error {
	if err := checkURL("relayURL", c.RelayURL, "ws", "wss"); err != nil {
		return err
	}
	if err := checkURL("apiURL", c.APIURL, "http", "https"); err != nil {
		return err
	}
	if c.Reconnect.MaxAttempts < 1 {
		return errors.Wrapf(invalidConfigError, "reconnect.maxAttempts %d is less than 1", c.Reconnect.MaxAttempts)
	}
	if c.CookieExpiration <= 0 {
		return errors.Wrapf(invalidConfigError, "cookieExpiration %d is not positive", c.CookieExpiration)
	}
	if c.AckTimeout <= 0 {
		return errors.Wrapf(invalidConfigError, "ackTimeout %s is not positive", c.AckTimeout)
	}
	if c.CacheTTL < 0 {
		return errors.Wrapf(invalidConfigError, "cacheTTL %s is negative", c.CacheTTL)
	}
	if c.SessionID != "" && c.RequestID == "" {
		return errors.Wrap(invalidConfigError, "requestId is required with sessionId")
	}
	return nil
}

func checkURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return errors.Wrapf(invalidConfigError, "%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(invalidConfigError, "%s %q: %v", key, raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return errors.Wrapf(invalidConfigError, "%s %q must use one of %v", key, raw, schemes)
}

// CookieTTL is the cookie expiration window.
func (c Config) CookieTTL() time.Duration {
	return time.Duration(c.CookieExpiration) * time.Minute
}
