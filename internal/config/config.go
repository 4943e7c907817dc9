package config

import (
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

const (
	// KrakenRESTBaseURL is the kraken exchange base REST url.
	KrakenRESTBaseURL = "https://api.kraken.com/0/public/"

	// BitstampRESTBaseURL is the bitstamp exchange base REST url.
	BitstampRESTBaseURL = "https://www.bitstamp.net/api/v2/"

	// BinanceRESTBaseURL is the binance exchange base REST url.
	BinanceRESTBaseURL = "https://api.binance.com/api/v3/"
)

// Config contains config values for the app.
// Struct values are loaded from user defined JSON config file.
type Config struct {
	Exchanges  []Exchange `json:"exchanges"`
	Storage    Storage    `json:"storage"`
	Connection Connection `json:"connection"`
	Log        Log        `json:"log"`
	Metrics    Metrics    `json:"metrics"`
}

// Exchange contains config values for different exchanges.
// All markets of one exchange share a single ticket queue paced by TicketIntervalSec.
type Exchange struct {
	Name              string   `json:"name"`
	BaseURL           string   `json:"base_url"`
	TicketIntervalSec float64  `json:"ticket_interval_sec"`
	Markets           []Market `json:"markets"`
	Retry             Retry    `json:"retry"`
}

// Market contains config values for different markets.
type Market struct {
	ID              string   `json:"id"`
	CommitName      string   `json:"commit_name"`
	PollIntervalSec float64  `json:"poll_interval_sec"`
	Storages        []string `json:"storages"`
}

// Retry contains config values for retry process.
type Retry struct {
	Number   int `json:"number"`
	GapSec   int `json:"gap_sec"`
	ResetSec int `json:"reset_sec"`
}

// Storage contains config values for the tick streams.
type Storage struct {
	Directory     string `json:"directory"`
	Encoding      string `json:"encoding"`
	SkipMalformed bool   `json:"skip_malformed"`
}

// Connection contains config values for different API and storage connections.
type Connection struct {
	REST       REST       `json:"rest"`
	ClickHouse ClickHouse `json:"clickhouse"`
}

// REST contains config values for REST API connection.
type REST struct {
	ReqTimeoutSec       int `json:"request_timeout_sec"`
	MaxIdleConns        int `json:"max_idle_conns"`
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`
}

// ClickHouse contains config values for clickhouse.
type ClickHouse struct {
	User          string   `json:"user"`
	Password      string   `json:"password"`
	URL           string   `json:"URL"`
	Schema        string   `json:"schema"`
	ReqTimeoutSec int      `json:"request_timeout_sec"`
	AltHosts      []string `json:"alt_hosts"`
	Compression   bool     `json:"compression"`
}

// Log contains config values for logging.
type Log struct {
	Level    string `json:"level"`
	FilePath string `json:"file_path"`
}

// Metrics contains config values for the prometheus endpoint.
// It is disabled if ListenAddr is empty.
type Metrics struct {
	ListenAddr string `json:"listen_addr"`
}

// Load reads the JSON config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "not able to find config file %s", path)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a JSON config and validates it.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	if err := jsoniter.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "not able to parse JSON config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks user defined values which can not be defaulted.
func (c *Config) Validate() error {
	switch c.Storage.Encoding {
	case "", "csv", "text", "pack", "binary", "memory":
	default:
		return errors.Errorf("unknown storage encoding %q", c.Storage.Encoding)
	}
	names := make(map[string]bool)
	for _, exch := range c.Exchanges {
		if exch.Name == "" {
			return errors.New("exchange name is empty")
		}
		if exch.TicketIntervalSec < 0 {
			return errors.Errorf("%s: ticket_interval_sec should not be negative", exch.Name)
		}
		for _, market := range exch.Markets {
			if market.ID == "" {
				return errors.Errorf("%s: market id is empty", exch.Name)
			}
			name := exch.Name + "." + market.StreamName()
			if names[name] {
				return errors.Errorf("%s: stream configured twice", name)
			}
			names[name] = true
			for _, str := range market.Storages {
				switch str {
				case "terminal", "clickhouse":
				default:
					return errors.Errorf("%s: unknown storage %q", name, str)
				}
			}
		}
	}
	return nil
}

// StreamName is the market part of the stream name, commit name if configured.
func (m Market) StreamName() string {
	if m.CommitName != "" {
		return m.CommitName
	}
	return m.ID
}
