package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/distwiki/internal/content"
	"github.com/starford/distwiki/internal/ledger"
	"github.com/starford/distwiki/internal/registry"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Chain    ChainConfig       `yaml:"chain"`
	IPFS     IPFSConfig        `yaml:"ipfs"`
	Ledger   LedgerConfig      `yaml:"ledger"`
	Articles ArticlesConfig    `yaml:"articles"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	if err := c.IPFS.Validate(); err != nil {
		return fmt.Errorf("ipfs: %w", err)
	}
	if err := c.Ledger.Validate(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if err := c.Articles.Validate(); err != nil {
		return fmt.Errorf("articles: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ChainConfig holds the Ethereum node, account and registry settings.
//
// ChainID 0 asks the node. StaleAfter only controls when a pending record is
// logged as stale; records are never expired.
type ChainConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	PrivateKey      string        `yaml:"private_key"`
	RegistryAddress string        `yaml:"registry_address"`
	ChainID         int64         `yaml:"chain_id"`
	GasLimit        uint64        `yaml:"gas_limit"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	StaleAfter      time.Duration `yaml:"stale_after"`
}

var hexAddress = validation.By(func(v any) error {
	s, _ := v.(string)
	if s != "" && !common.IsHexAddress(s) {
		return errors.New("must be a 20-byte hex address")
	}
	return nil
})

// Validate validates the chain configuration.
func (c *ChainConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RPCURL, validation.Required, is.URL),
		validation.Field(&c.PrivateKey, validation.Required, is.Hexadecimal, validation.Length(64, 64)),
		validation.Field(&c.RegistryAddress, validation.Required, hexAddress),
		validation.Field(&c.ChainID, validation.Min(int64(0))),
		validation.Field(&c.GasLimit, validation.Required, validation.Min(uint64(21000))),
		validation.Field(&c.PollInterval, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.StaleAfter, validation.Min(time.Duration(0))),
	)
}

// IPFSConfig holds the storage network daemon settings.
type IPFSConfig struct {
	APIURL       string        `yaml:"api_url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// Validate validates the IPFS configuration.
func (c *IPFSConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIURL, validation.Required),
		validation.Field(&c.FetchTimeout, validation.Required, validation.Min(time.Second)),
	)
}

// LedgerConfig selects the local transaction ledger backend.
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = ledger.DriverSQLite
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(ledger.DriverSQLite, ledger.DriverBadger)),
		validation.Field(&c.Path, validation.Required),
	)
}

// ArticlesConfig holds the path to the local article directory.
type ArticlesConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the articles configuration.
func (c *ArticlesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
// The account key and registry address have no default.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Chain: ChainConfig{
			RPCURL:       "http://localhost:8545",
			GasLimit:     registry.DefaultGasLimit,
			PollInterval: 5 * time.Second,
			StaleAfter:   30 * time.Minute,
		},
		IPFS: IPFSConfig{
			APIURL:       "localhost:5001",
			FetchTimeout: content.DefaultFetchTimeout,
		},
		Ledger: LedgerConfig{
			Driver: ledger.DriverSQLite,
			Path:   "./distwiki.db",
		},
		Articles: ArticlesConfig{
			Path: "./articles",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
