package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/ccdwallet/multisig-go/pkg/ledger"
	"github.com/ccdwallet/multisig-go/pkg/retry"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

const (
	EnvConfigFile         = "CCD_CONFIG"
	EnvNetwork            = "CCD_NETWORK"
	EnvNodeURL            = "CCD_NODE_URL"
	EnvDeviceTransport    = "CCD_DEVICE_TRANSPORT"
	EnvDeviceAddress      = "CCD_DEVICE_ADDRESS"
	EnvPersistenceType    = "CCD_PERSISTENCE_TYPE"
	EnvBadgerDir          = "CCD_BADGER_DIR"
	EnvRedisAddress       = "CCD_REDIS_ADDRESS"
	EnvRedisPassword      = "CCD_REDIS_PASSWORD"
	EnvKeystorePath       = "CCD_KEYSTORE_PATH"
	EnvKeystorePassphrase = "CCD_KEYSTORE_PASSPHRASE"
	EnvServerAddress      = "CCD_SERVER_ADDRESS"
	EnvDebug              = "CCD_DEBUG"
)

type NetworkName string

const (
	Network_Mainnet NetworkName = "mainnet"
	Network_Testnet NetworkName = "testnet"
	Network_Devnet  NetworkName = "devnet"
)

var DefaultNodeURLs = map[NetworkName]string{
	Network_Mainnet: "https://node.mainnet.concordium.software",
	Network_Testnet: "https://node.testnet.concordium.com",
	Network_Devnet:  "http://localhost:20000",
}

// GetPollIntervalForNetwork returns how often a submitted transaction is
// polled. Finalization takes a few seconds on the public networks.
func GetPollIntervalForNetwork(network NetworkName) time.Duration {
	switch network {
	case Network_Devnet:
		return 500 * time.Millisecond
	default:
		return 2 * time.Second
	}
}

type DeviceTransport string

const (
	DeviceTransport_None     DeviceTransport = "none"
	DeviceTransport_HID      DeviceTransport = "hid"
	DeviceTransport_TCP      DeviceTransport = "tcp"
	DeviceTransport_Emulator DeviceTransport = "emulator"
)

type PersistenceType string

const (
	PersistenceType_Memory PersistenceType = "memory"
	PersistenceType_Badger PersistenceType = "badger"
	PersistenceType_Redis  PersistenceType = "redis"
)

type NodeConfig struct {
	URL            string            `json:"url" yaml:"url"`
	RequestTimeout time.Duration     `json:"requestTimeout" yaml:"requestTimeout"`
	Retry          retry.RetryConfig `json:"retry" yaml:"retry"`
}

// StatusWordConfig adds a device status word to the built-in table
type StatusWordConfig struct {
	Code     uint16 `json:"code" yaml:"code"`
	Category string `json:"category" yaml:"category"`
	Message  string `json:"message" yaml:"message"`
}

type DeviceConfig struct {
	Transport DeviceTransport `json:"transport" yaml:"transport"`
	// Address of a TCP device emulator, host:port
	Address string `json:"address" yaml:"address"`
	// EmulatorSeed derives the keys of the in-process emulator
	EmulatorSeed string        `json:"emulatorSeed" yaml:"emulatorSeed"`
	Deadline     time.Duration `json:"deadline" yaml:"deadline"`
	// SigningRetry governs retries of busy, locked or unreachable devices
	SigningRetry retry.RetryConfig  `json:"signingRetry" yaml:"signingRetry"`
	StatusWords  []StatusWordConfig `json:"statusWords" yaml:"statusWords"`
}

type RedisConfig struct {
	Address   string `json:"address" yaml:"address"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

type PersistenceConfig struct {
	Type      PersistenceType `json:"type" yaml:"type"`
	BadgerDir string          `json:"badgerDir" yaml:"badgerDir"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
}

type SubmissionConfig struct {
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval"`
	// PollRate bounds node status queries per second
	PollRate          float64 `json:"pollRate" yaml:"pollRate"`
	PollBurst         int     `json:"pollBurst" yaml:"pollBurst"`
	ReconcileSchedule string  `json:"reconcileSchedule" yaml:"reconcileSchedule"`
}

type KeystoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
}

// Config is the complete configuration of the wallet core
type Config struct {
	Network     NetworkName       `json:"network" yaml:"network"`
	Debug       bool              `json:"debug" yaml:"debug"`
	Node        NodeConfig        `json:"node" yaml:"node"`
	Device      DeviceConfig      `json:"device" yaml:"device"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Submission  SubmissionConfig  `json:"submission" yaml:"submission"`
	Keystore    KeystoreConfig    `json:"keystore" yaml:"keystore"`
	Server      ServerConfig      `json:"server" yaml:"server"`
}

// Default returns the configuration used when no file is given
func Default(network NetworkName) *Config {
	return &Config{
		Network: network,
		Node: NodeConfig{
			URL:            DefaultNodeURLs[network],
			RequestTimeout: 10 * time.Second,
			Retry:          retry.DefaultRetryConfig,
		},
		Device: DeviceConfig{
			Transport:    DeviceTransport_HID,
			Deadline:     ledger.DefaultDeadline,
			SigningRetry: retry.DefaultRetryConfig,
		},
		Persistence: PersistenceConfig{
			Type:      PersistenceType_Badger,
			BadgerDir: "./data/proposals",
			Redis:     RedisConfig{Address: "localhost:6379"},
		},
		Submission: SubmissionConfig{
			PollInterval:      GetPollIntervalForNetwork(network),
			PollRate:          5,
			PollBurst:         1,
			ReconcileSchedule: "@every 30s",
		},
		Keystore: KeystoreConfig{Path: "./keystore.json"},
		Server:   ServerConfig{Address: ":9090"},
	}
}

// Load reads a YAML config file over the defaults of its network
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config over the defaults of its network. A missing
// network means mainnet.
func Parse(data []byte) (*Config, error) {
	var head struct {
		Network NetworkName `yaml:"network"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if head.Network == "" {
		head.Network = Network_Mainnet
	}
	cfg := Default(head.Network)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var allErrors field.ErrorList

	if _, ok := DefaultNodeURLs[c.Network]; !ok {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("network"), c.Network,
			[]string{string(Network_Mainnet), string(Network_Testnet), string(Network_Devnet)}))
	}
	allErrors = append(allErrors, c.Node.validate(field.NewPath("node"))...)
	allErrors = append(allErrors, c.Device.validate(field.NewPath("device"))...)
	allErrors = append(allErrors, c.Persistence.validate(field.NewPath("persistence"))...)
	allErrors = append(allErrors, c.Submission.validate(field.NewPath("submission"))...)

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func (n *NodeConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	if n.URL == "" {
		errs = append(errs, field.Required(path.Child("url"), "node url is required"))
	} else if u, err := url.Parse(n.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, field.Invalid(path.Child("url"), n.URL, "must be an absolute http(s) url"))
	}
	if n.RequestTimeout <= 0 {
		errs = append(errs, field.Invalid(path.Child("requestTimeout"), n.RequestTimeout.String(), "must be positive"))
	}
	errs = append(errs, validateRetry(path.Child("retry"), n.Retry)...)
	return errs
}

func (d *DeviceConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	switch d.Transport {
	case DeviceTransport_None, DeviceTransport_HID, DeviceTransport_Emulator:
	case DeviceTransport_TCP:
		if d.Address == "" {
			errs = append(errs, field.Required(path.Child("address"), "address is required for the tcp transport"))
		}
	default:
		errs = append(errs, field.NotSupported(path.Child("transport"), d.Transport, []string{
			string(DeviceTransport_None), string(DeviceTransport_HID), string(DeviceTransport_TCP), string(DeviceTransport_Emulator),
		}))
	}
	if d.Deadline <= 0 {
		errs = append(errs, field.Invalid(path.Child("deadline"), d.Deadline.String(), "must be positive"))
	}
	errs = append(errs, validateRetry(path.Child("signingRetry"), d.SigningRetry)...)
	for i, sw := range d.StatusWords {
		p := path.Child("statusWords").Index(i)
		if sw.Code == 0x9000 {
			errs = append(errs, field.Invalid(p.Child("code"), fmt.Sprintf("%#04x", sw.Code), "the success status cannot be redefined"))
		}
		if _, err := ledger.ParseCategory(sw.Category); err != nil {
			errs = append(errs, field.Invalid(p.Child("category"), sw.Category, err.Error()))
		}
	}
	return errs
}

func (p *PersistenceConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	switch p.Type {
	case PersistenceType_Memory:
	case PersistenceType_Badger:
		if p.BadgerDir == "" {
			errs = append(errs, field.Required(path.Child("badgerDir"), "badgerDir is required for badger persistence"))
		}
	case PersistenceType_Redis:
		if p.Redis.Address == "" {
			errs = append(errs, field.Required(path.Child("redis", "address"), "address is required for redis persistence"))
		}
		if p.Redis.DB < 0 {
			errs = append(errs, field.Invalid(path.Child("redis", "db"), p.Redis.DB, "must not be negative"))
		}
	default:
		errs = append(errs, field.NotSupported(path.Child("type"), p.Type, []string{
			string(PersistenceType_Memory), string(PersistenceType_Badger), string(PersistenceType_Redis),
		}))
	}
	return errs
}

func (s *SubmissionConfig) validate(path *field.Path) field.ErrorList {
	var errs field.ErrorList
	if s.PollInterval <= 0 {
		errs = append(errs, field.Invalid(path.Child("pollInterval"), s.PollInterval.String(), "must be positive"))
	}
	if s.PollRate <= 0 {
		errs = append(errs, field.Invalid(path.Child("pollRate"), s.PollRate, "must be positive"))
	}
	if s.PollBurst < 1 {
		errs = append(errs, field.Invalid(path.Child("pollBurst"), s.PollBurst, "must be at least 1"))
	}
	if _, err := cron.ParseStandard(s.ReconcileSchedule); err != nil {
		errs = append(errs, field.Invalid(path.Child("reconcileSchedule"), s.ReconcileSchedule, err.Error()))
	}
	return errs
}

func validateRetry(path *field.Path, r retry.RetryConfig) field.ErrorList {
	var errs field.ErrorList
	if r.MaxAttempts < 1 {
		errs = append(errs, field.Invalid(path.Child("maxAttempts"), r.MaxAttempts, "must be at least 1"))
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < r.InitialBackoff {
		errs = append(errs, field.Invalid(path.Child("maxBackoff"), r.MaxBackoff.String(), "must be at least initialBackoff"))
	}
	if r.BackoffMultiple < 1 {
		errs = append(errs, field.Invalid(path.Child("backoffMultiple"), r.BackoffMultiple, "must be at least 1"))
	}
	return errs
}

// ApplyStatusWords registers the configured status words with the device
// client. Call after Validate.
func (d *DeviceConfig) ApplyStatusWords() error {
	for _, sw := range d.StatusWords {
		category, err := ledger.ParseCategory(sw.Category)
		if err != nil {
			return err
		}
		message := sw.Message
		if message == "" {
			message = fmt.Sprintf("status %#04x", sw.Code)
		}
		ledger.RegisterStatus(sw.Code, ledger.StatusInfo{Message: message, Category: category})
	}
	return nil
}
