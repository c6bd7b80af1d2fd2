package config

// Configuration loading and validation for osydiag

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/tonylturner/osydiag/internal/can"
	"github.com/tonylturner/osydiag/internal/can/signal"
	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/errors"
)

// Defaults applied by LoadConfig and CreateDefaultConfig.
const (
	DefaultAddress          = "127.0.0.1:13400"
	DefaultSourceAddress    = 0x0F00
	DefaultTargetAddress    = 0x0001
	DefaultTimeoutMs        = 1000
	DefaultPendingTimeoutMs = 5000
	DefaultCycleIntervalMs  = 10
	DefaultNvmSize          = 0x1000
	DefaultListenAddress    = "0.0.0.0:13400"
)

// DefaultRailRatesMs are the slow, medium and fast event rail intervals.
var DefaultRailRatesMs = []int{1000, 500, 100}

// Config is the root of an osydiag YAML file.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Node       NodeConfig       `yaml:"node"`
	Messages   []MessageConfig  `yaml:"messages,omitempty"`
	Simulator  SimulatorConfig  `yaml:"simulator,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// ConnectionConfig describes how the tester reaches the node. Every field can
// be overridden from the environment.
type ConnectionConfig struct {
	Address          string `yaml:"address" env:"OSYDIAG_ADDRESS"`
	SourceAddress    uint16 `yaml:"source_address" env:"OSYDIAG_SOURCE_ADDRESS"` // tester logical address
	TargetAddress    uint16 `yaml:"target_address" env:"OSYDIAG_TARGET_ADDRESS"` // node logical address
	TimeoutMs        int    `yaml:"timeout_ms" env:"OSYDIAG_TIMEOUT_MS"`
	PendingTimeoutMs int    `yaml:"pending_timeout_ms,omitempty" env:"OSYDIAG_PENDING_TIMEOUT_MS"`
	CycleIntervalMs  int    `yaml:"cycle_interval_ms,omitempty" env:"OSYDIAG_CYCLE_INTERVAL_MS"`
	RailRatesMs      []int  `yaml:"rail_rates_ms,omitempty" env:"OSYDIAG_RAIL_RATES_MS" envSeparator:","`
}

// NodeConfig is the datapool model of one openSYDE node. Datapool, list and
// element indices are their positions in the YAML lists.
type NodeConfig struct {
	Name      string           `yaml:"name"`
	NvmSize   int              `yaml:"nvm_size,omitempty"`
	DataPools []DataPoolConfig `yaml:"datapools"`
}

// DataPoolConfig describes one datapool.
type DataPoolConfig struct {
	Name              string       `yaml:"name"`
	Version           string       `yaml:"version"`                      // "major.minor.release"
	VersionConstraint string       `yaml:"version_constraint,omitempty"` // semver constraint required by the tester
	Checksum          uint32       `yaml:"checksum,omitempty"`           // 0 = derived from the definition
	Nvm               bool         `yaml:"nvm,omitempty"`
	NvmAddress        uint32       `yaml:"nvm_address,omitempty"`
	Lists             []ListConfig `yaml:"lists"`
}

// ListConfig describes one list of a datapool.
type ListConfig struct {
	Name     string          `yaml:"name"`
	Elements []ElementConfig `yaml:"elements"`
}

// ElementConfig describes one datapool element.
type ElementConfig struct {
	Name        string    `yaml:"name"`
	Type        string    `yaml:"type"`                   // uint8..int64, float32, float64
	ArrayLength int       `yaml:"array_length,omitempty"` // 0 or 1 for scalars
	Initial     []float64 `yaml:"initial,omitempty"`
	Unit        string    `yaml:"unit,omitempty"`
}

// MessageConfig describes a CAN message carried by the node.
type MessageConfig struct {
	Name     string         `yaml:"name"`
	ID       uint32         `yaml:"id"`
	Extended bool           `yaml:"extended,omitempty"`
	DLC      uint8          `yaml:"dlc"`
	Signals  []SignalConfig `yaml:"signals"`
}

// SignalConfig describes one signal of a CAN message.
type SignalConfig struct {
	Name      string  `yaml:"name"`
	StartBit  uint16  `yaml:"start_bit"`
	BitLength uint16  `yaml:"bit_length"`
	ByteOrder string  `yaml:"byte_order,omitempty"` // "intel" or "motorola"
	Signed    bool    `yaml:"signed,omitempty"`
	Factor    float64 `yaml:"factor,omitempty"`
	Offset    float64 `yaml:"offset,omitempty"`
	Unit      string  `yaml:"unit,omitempty"`
}

// SimulatorConfig controls the simulated node served by "osydiag sim".
type SimulatorConfig struct {
	ListenAddress string      `yaml:"listen_address,omitempty"`
	Seed          int64       `yaml:"seed,omitempty"`
	Faults        FaultConfig `yaml:"faults,omitempty"`
}

// FaultLatencyConfig controls response latency injection.
type FaultLatencyConfig struct {
	BaseDelayMs  int `yaml:"base_delay_ms,omitempty"`
	JitterMs     int `yaml:"jitter_ms,omitempty"`
	SpikeEveryN  int `yaml:"spike_every_n,omitempty"`
	SpikeDelayMs int `yaml:"spike_delay_ms,omitempty"`
}

// FaultReliabilityConfig controls dropped and pending responses.
type FaultReliabilityConfig struct {
	DropResponseEveryN    int     `yaml:"drop_response_every_n,omitempty"`
	DropResponsePct       float64 `yaml:"drop_response_pct,omitempty"`
	PendingEveryN         int     `yaml:"pending_every_n,omitempty"`
	CloseConnectionEveryN int     `yaml:"close_connection_every_n,omitempty"`
}

// FaultConfig controls fault injection for the simulated node.
type FaultConfig struct {
	Enable      bool                   `yaml:"enable,omitempty"`
	Latency     FaultLatencyConfig     `yaml:"latency,omitempty"`
	Reliability FaultReliabilityConfig `yaml:"reliability,omitempty"`
}

// LoggingConfig controls log formatting and verbosity.
type LoggingConfig struct {
	Format    string `yaml:"format,omitempty"` // "text" or "json"
	Level     string `yaml:"level,omitempty"`  // "error","warn","info","verbose","debug"
	LogEveryN int    `yaml:"log_every_n,omitempty"`
	LogFile   string `yaml:"log_file,omitempty"`
}

// CreateDefaultConfig returns a configuration with one diagnostic and one
// NVM datapool, suitable for the simulator and as a template.
func CreateDefaultConfig() *Config {
	cfg := &Config{
		Node: NodeConfig{
			Name: "ExampleNode",
			DataPools: []DataPoolConfig{
				{
					Name:              "DiagData",
					Version:           "1.0.0",
					VersionConstraint: "^1.0.0",
					Lists: []ListConfig{
						{
							Name: "Measurements",
							Elements: []ElementConfig{
								{Name: "SupplyVoltage", Type: "uint16", Initial: []float64{12000}, Unit: "mV"},
								{Name: "Temperature", Type: "int16", Initial: []float64{25}, Unit: "degC"},
								{Name: "Counter", Type: "uint32"},
								{Name: "Setpoints", Type: "float32", ArrayLength: 4},
							},
						},
					},
				},
				{
					Name:       "Parameters",
					Version:    "1.2.0",
					Nvm:        true,
					NvmAddress: 0x0100,
					Lists: []ListConfig{
						{
							Name: "Calibration",
							Elements: []ElementConfig{
								{Name: "Gain", Type: "float32", Initial: []float64{1}},
								{Name: "Offset", Type: "int32"},
								{Name: "SerialNumber", Type: "uint8", ArrayLength: 8},
							},
						},
					},
				},
			},
		},
		Messages: []MessageConfig{
			{
				Name: "Status",
				ID:   0x181,
				DLC:  8,
				Signals: []SignalConfig{
					{Name: "SupplyVoltage", StartBit: 0, BitLength: 16, ByteOrder: "intel", Factor: 0.001, Unit: "V"},
					{Name: "Temperature", StartBit: 23, BitLength: 8, ByteOrder: "motorola", Signed: true, Unit: "degC"},
					{Name: "Alive", StartBit: 24, BitLength: 4, ByteOrder: "intel"},
				},
			},
		},
	}

	applyDefaults(cfg)
	return cfg
}

// WriteDefaultConfig writes a default configuration to a file
func WriteDefaultConfig(path string) error {
	cfg := CreateDefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadConfig loads a configuration from a YAML file and applies environment
// overrides. If the file doesn't exist and autoCreate is true, a default
// config file is written first.
func LoadConfig(path string, autoCreate bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.WrapConfigError(fmt.Errorf("read config file: %w", err), path)
		}
		if !autoCreate {
			return nil, errors.WrapConfigError(fmt.Errorf("config file not found: %s", path), path)
		}
		if err := WriteDefaultConfig(path); err != nil {
			return nil, fmt.Errorf("create default config: %w", err)
		}
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapConfigError(fmt.Errorf("read created config file: %w", err), path)
		}
	}

	return ParseConfig(data, path)
}

// ParseConfig decodes YAML data, applies environment overrides and defaults,
// and validates the result. source names the data in error messages.
func ParseConfig(data []byte, source string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapConfigError(fmt.Errorf("parse YAML: %w", err), source)
	}
	if err := ApplyEnv(&cfg); err != nil {
		return nil, errors.WrapConfigError(err, source)
	}

	applyDefaults(&cfg)

	if err := ValidateConfig(&cfg); err != nil {
		return nil, errors.WrapConfigError(fmt.Errorf("validate config: %w", err), source)
	}

	return &cfg, nil
}

// ApplyEnv overrides the connection section from OSYDIAG_* variables.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(&cfg.Connection); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	c := &cfg.Connection
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.SourceAddress == 0 {
		c.SourceAddress = DefaultSourceAddress
	}
	if c.TargetAddress == 0 {
		c.TargetAddress = DefaultTargetAddress
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = DefaultTimeoutMs
	}
	if c.PendingTimeoutMs == 0 {
		c.PendingTimeoutMs = DefaultPendingTimeoutMs
	}
	if c.CycleIntervalMs == 0 {
		c.CycleIntervalMs = DefaultCycleIntervalMs
	}
	if len(c.RailRatesMs) == 0 {
		c.RailRatesMs = append([]int(nil), DefaultRailRatesMs...)
	}

	if cfg.Node.NvmSize == 0 {
		cfg.Node.NvmSize = DefaultNvmSize
	}
	for i := range cfg.Messages {
		for j := range cfg.Messages[i].Signals {
			if cfg.Messages[i].Signals[j].ByteOrder == "" {
				cfg.Messages[i].Signals[j].ByteOrder = "intel"
			}
		}
	}

	if cfg.Simulator.ListenAddress == "" {
		cfg.Simulator.ListenAddress = DefaultListenAddress
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.LogEveryN == 0 {
		cfg.Logging.LogEveryN = 1
	}
}

// ValidateConfig validates a configuration
func ValidateConfig(cfg *Config) error {
	c := cfg.Connection
	if c.Address == "" {
		return fmt.Errorf("connection.address is required")
	}
	if c.SourceAddress == c.TargetAddress {
		return fmt.Errorf("connection.source_address and target_address must differ")
	}
	if c.TimeoutMs < 0 || c.PendingTimeoutMs < 0 || c.CycleIntervalMs < 0 {
		return fmt.Errorf("connection timeouts must be >= 0")
	}
	if len(c.RailRatesMs) > diag.RailCount {
		return fmt.Errorf("connection.rail_rates_ms has %d entries, max %d", len(c.RailRatesMs), diag.RailCount)
	}
	for i, rate := range c.RailRatesMs {
		if rate <= 0 || rate > 0xFFFF {
			return fmt.Errorf("connection.rail_rates_ms[%d] must be 1..65535", i)
		}
	}

	if err := validateNode(cfg.Node); err != nil {
		return err
	}

	for i, m := range cfg.Messages {
		msg, err := m.Message()
		if err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}

	f := cfg.Simulator.Faults
	if f.Latency.BaseDelayMs < 0 || f.Latency.JitterMs < 0 || f.Latency.SpikeDelayMs < 0 || f.Latency.SpikeEveryN < 0 {
		return fmt.Errorf("simulator.faults.latency values must be >= 0")
	}
	if f.Reliability.DropResponseEveryN < 0 || f.Reliability.PendingEveryN < 0 || f.Reliability.CloseConnectionEveryN < 0 {
		return fmt.Errorf("simulator.faults.reliability values must be >= 0")
	}
	if f.Reliability.DropResponsePct < 0 || f.Reliability.DropResponsePct > 1 {
		return fmt.Errorf("simulator.faults.reliability.drop_response_pct must be between 0 and 1")
	}

	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	return nil
}

func validateNode(n NodeConfig) error {
	if len(n.DataPools) > MaxDataPools {
		return fmt.Errorf("node.datapools: %d datapools, max %d", len(n.DataPools), MaxDataPools)
	}
	if n.NvmSize < 0 {
		return fmt.Errorf("node.nvm_size must be >= 0")
	}
	names := make(map[string]bool)
	for i, dp := range n.DataPools {
		where := fmt.Sprintf("node.datapools[%d]", i)
		if dp.Name == "" {
			return fmt.Errorf("%s: name is required", where)
		}
		if names[dp.Name] {
			return fmt.Errorf("%s: duplicate datapool name %s", where, dp.Name)
		}
		names[dp.Name] = true
		if _, err := ParseVersion(dp.Version); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if len(dp.Lists) > MaxLists {
			return fmt.Errorf("%s: %d lists, max %d", where, len(dp.Lists), MaxLists)
		}
		for j, list := range dp.Lists {
			if err := validateList(list, fmt.Sprintf("%s.lists[%d]", where, j)); err != nil {
				return err
			}
		}
		if dp.Nvm {
			end := int64(dp.NvmAddress) + int64(dp.NvmSize())
			if end > int64(n.NvmSize) {
				return fmt.Errorf("%s: NVM range 0x%X..0x%X exceeds nvm_size 0x%X", where, dp.NvmAddress, end, n.NvmSize)
			}
		}
	}
	return checkNvmOverlap(n)
}

func validateList(list ListConfig, where string) error {
	if list.Name == "" {
		return fmt.Errorf("%s: name is required", where)
	}
	if len(list.Elements) > MaxElements {
		return fmt.Errorf("%s: %d elements, max %d", where, len(list.Elements), MaxElements)
	}
	seen := make(map[string]bool, len(list.Elements))
	for k, el := range list.Elements {
		at := fmt.Sprintf("%s.elements[%d]", where, k)
		if el.Name == "" {
			return fmt.Errorf("%s: name is required", at)
		}
		if seen[el.Name] {
			return fmt.Errorf("%s: duplicate element name %s", at, el.Name)
		}
		seen[el.Name] = true
		if _, ok := TypeSize(el.Type); !ok {
			return fmt.Errorf("%s: unknown type %q", at, el.Type)
		}
		if el.ArrayLength < 0 {
			return fmt.Errorf("%s: array_length must be >= 0", at)
		}
		if _, err := diag.EncodeFloats(el.ValueType(), diag.BigEndian, el.Initial, el.Count()); err != nil {
			return fmt.Errorf("%s: initial values: %w", at, err)
		}
	}
	return nil
}

func checkNvmOverlap(n NodeConfig) error {
	for i, a := range n.DataPools {
		if !a.Nvm {
			continue
		}
		for j := i + 1; j < len(n.DataPools); j++ {
			b := n.DataPools[j]
			if !b.Nvm {
				continue
			}
			aEnd := a.NvmAddress + uint32(a.NvmSize())
			bEnd := b.NvmAddress + uint32(b.NvmSize())
			if a.NvmAddress < bEnd && b.NvmAddress < aEnd {
				return fmt.Errorf("node.datapools: NVM ranges of %s and %s overlap", a.Name, b.Name)
			}
		}
	}
	return nil
}

// Message converts the configuration into the CAN message model.
func (m MessageConfig) Message() (can.Message, error) {
	msg := can.Message{Name: m.Name, ID: m.ID, Extended: m.Extended, DLC: m.DLC}
	for _, s := range m.Signals {
		order, err := parseByteOrder(s.ByteOrder)
		if err != nil {
			return can.Message{}, fmt.Errorf("signal %s: %w", s.Name, err)
		}
		msg.Signals = append(msg.Signals, can.Signal{
			Name: s.Name,
			Descriptor: signal.Descriptor{
				StartBit:  s.StartBit,
				BitLength: s.BitLength,
				ByteOrder: order,
			},
			Signed: s.Signed,
			Factor: s.Factor,
			Offset: s.Offset,
			Unit:   s.Unit,
		})
	}
	return msg, nil
}

// FindMessage returns the named message.
func (cfg *Config) FindMessage(name string) (can.Message, error) {
	for _, m := range cfg.Messages {
		if m.Name == name {
			return m.Message()
		}
	}
	return can.Message{}, fmt.Errorf("unknown message %q", name)
}

func parseByteOrder(s string) (signal.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "intel", "little", "little_endian":
		return signal.Intel, nil
	case "motorola", "big", "big_endian":
		return signal.Motorola, nil
	default:
		return 0, fmt.Errorf("unknown byte order %q", s)
	}
}
