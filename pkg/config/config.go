package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/toshiapp/toshi-auth-go/pkg/persistence"
)

// Environment variable names shared by toshi-sign and toshi-authd
const (
	EnvToshiMnemonic        = "TOSHI_MNEMONIC"
	EnvToshiIDServiceURL    = "TOSHI_ID_SERVICE_URL"
	EnvToshiBuildProfile    = "TOSHI_BUILD_PROFILE"
	EnvToshiPort            = "TOSHI_PORT"
	EnvToshiPersistenceType = "TOSHI_PERSISTENCE_TYPE"
	EnvToshiBadgerPath      = "TOSHI_BADGER_PATH"
	EnvToshiRedisAddress    = "TOSHI_REDIS_ADDRESS"
	EnvToshiVerbose         = "TOSHI_VERBOSE"
	EnvToshiTimestampWindow = "TOSHI_TIMESTAMP_WINDOW"
	EnvToshiConfigFile      = "TOSHI_CONFIG_FILE"
)

const (
	DefaultIDServiceURL    = "https://identity.service.toshi.org"
	DefaultPort            = 8080
	DefaultTimestampWindow = 5 * time.Minute
	DefaultBadgerPath      = "./data/toshi-authd"
	DefaultRequestTimeout  = 30 * time.Second
)

// BuildProfile selects the default and available networks, mirroring the
// app's release, debug and dev builds
type BuildProfile string

const (
	BuildProfileRelease BuildProfile = "release"
	BuildProfileDebug   BuildProfile = "debug"
	BuildProfileDev     BuildProfile = "dev"
)

func (p BuildProfile) String() string {
	return string(p)
}

func (p BuildProfile) Valid() bool {
	switch p {
	case BuildProfileRelease, BuildProfileDebug, BuildProfileDev:
		return true
	}
	return false
}

// ParseBuildProfile accepts any casing; the empty string means release
func ParseBuildProfile(s string) (BuildProfile, error) {
	p := BuildProfile(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return BuildProfileRelease, nil
	}
	if !p.Valid() {
		return "", fmt.Errorf("unsupported build profile %q. Supported: %s", s, GetSupportedBuildProfilesString())
	}
	return p, nil
}

// GetSupportedBuildProfilesString returns the profiles for CLI help
func GetSupportedBuildProfilesString() string {
	return fmt.Sprintf("%s, %s, %s", BuildProfileRelease, BuildProfileDebug, BuildProfileDev)
}

// PersistenceConfig selects and configures a persistence backend
type PersistenceConfig struct {
	Type           string `json:"type" yaml:"type"`
	BadgerPath     string `json:"badgerPath" yaml:"badgerPath"`
	RedisAddress   string `json:"redisAddress" yaml:"redisAddress"`
	RedisPassword  string `json:"redisPassword" yaml:"redisPassword"`
	RedisDB        int    `json:"redisDB" yaml:"redisDB"`
	RedisKeyPrefix string `json:"redisKeyPrefix" yaml:"redisKeyPrefix"`
}

func (pc *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var allErrors field.ErrorList
	switch pc.Type {
	case persistence.TypeMemory:
	case persistence.TypeBadger:
		if pc.BadgerPath == "" {
			allErrors = append(allErrors, field.Required(path.Child("badgerPath"), "badgerPath is required for badger persistence"))
		}
	case persistence.TypeRedis:
		if pc.RedisAddress == "" {
			allErrors = append(allErrors, field.Required(path.Child("redisAddress"), "redisAddress is required for redis persistence"))
		}
		if pc.RedisDB < 0 || pc.RedisDB > 15 {
			allErrors = append(allErrors, field.Invalid(path.Child("redisDB"), pc.RedisDB, "must be between 0-15"))
		}
	default:
		allErrors = append(allErrors, field.NotSupported(path.Child("type"), pc.Type, []string{persistence.TypeMemory, persistence.TypeBadger, persistence.TypeRedis}))
	}
	return allErrors
}

// Validate checks the backend specific fields
func (pc *PersistenceConfig) Validate() error {
	if errs := pc.validate(field.NewPath("persistence")); len(errs) > 0 {
		return errs.ToAggregate()
	}
	return nil
}

// AuthServerConfig is the configuration of toshi-authd
type AuthServerConfig struct {
	Port int `json:"port" yaml:"port"`

	// TimestampWindow bounds how far Token-Timestamp may be from the server clock
	TimestampWindow time.Duration `json:"timestampWindow" yaml:"timestampWindow"`

	// RequestsPerSecond and Burst rate limit each identity address. Zero disables limiting.
	RequestsPerSecond float64 `json:"requestsPerSecond" yaml:"requestsPerSecond"`
	Burst             int     `json:"burst" yaml:"burst"`

	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`

	Debug   bool   `json:"debug" yaml:"debug"`
	Verbose bool   `json:"verbose" yaml:"verbose"`
	LogFile string `json:"logFile" yaml:"logFile"`
}

// DefaultAuthServerConfig returns a config for a single node with badger storage
func DefaultAuthServerConfig() *AuthServerConfig {
	return &AuthServerConfig{
		Port:            DefaultPort,
		TimestampWindow: DefaultTimestampWindow,
		Persistence: PersistenceConfig{
			Type:       persistence.TypeBadger,
			BadgerPath: DefaultBadgerPath,
		},
	}
}

// Validate validates the auth server configuration
func (c *AuthServerConfig) Validate() error {
	var allErrors field.ErrorList
	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "port must be between 1-65535"))
	}
	if c.TimestampWindow <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("timestampWindow"), c.TimestampWindow.String(), "timestampWindow must be positive"))
	}
	if c.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestsPerSecond"), c.RequestsPerSecond, "must not be negative"))
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("burst"), c.Burst, "burst must be at least 1 when rate limiting is enabled"))
	}
	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

// LoadAuthServerConfig reads a YAML file over the defaults
func LoadAuthServerConfig(path string) (*AuthServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseAuthServerConfig(data)
}

// ParseAuthServerConfig decodes YAML over the defaults. Unknown keys are rejected.
func ParseAuthServerConfig(data []byte) (*AuthServerConfig, error) {
	cfg := DefaultAuthServerConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// ClientConfig configures a signing client
type ClientConfig struct {
	Mnemonic          string        `json:"-" yaml:"-"`
	IDServiceURL      string        `json:"idServiceUrl" yaml:"idServiceUrl"`
	BuildProfile      BuildProfile  `json:"buildProfile" yaml:"buildProfile"`
	RequestTimeout    time.Duration `json:"requestTimeout" yaml:"requestTimeout"`
	RequestsPerSecond float64       `json:"requestsPerSecond" yaml:"requestsPerSecond"`
}

// Validate checks the client configuration. The mnemonic itself is checked
// when the identity is built.
func (c *ClientConfig) Validate() error {
	var allErrors field.ErrorList
	if strings.TrimSpace(c.Mnemonic) == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("mnemonic"), "mnemonic is required"))
	}
	if c.IDServiceURL == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("idServiceUrl"), "idServiceUrl is required"))
	} else if u, err := url.Parse(c.IDServiceURL); err != nil || u.Scheme == "" || u.Host == "" {
		allErrors = append(allErrors, field.Invalid(field.NewPath("idServiceUrl"), c.IDServiceURL, "must be an absolute URL"))
	}
	if !c.BuildProfile.Valid() {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("buildProfile"), string(c.BuildProfile),
			[]string{string(BuildProfileRelease), string(BuildProfileDebug), string(BuildProfileDev)}))
	}
	if c.RequestTimeout < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestTimeout"), c.RequestTimeout.String(), "must not be negative"))
	}
	if c.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("requestsPerSecond"), c.RequestsPerSecond, "must not be negative"))
	}
	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}
