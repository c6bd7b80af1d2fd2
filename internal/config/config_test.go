package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tonylturner/osydiag/internal/can/signal"
	"github.com/tonylturner/osydiag/internal/diag"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "default config",
			mutate: func(*Config) {},
		},
		{
			name:    "same logical addresses",
			mutate:  func(c *Config) { c.Connection.TargetAddress = c.Connection.SourceAddress },
			wantErr: "must differ",
		},
		{
			name:    "too many rails",
			mutate:  func(c *Config) { c.Connection.RailRatesMs = []int{1, 2, 3, 4} },
			wantErr: "max 3",
		},
		{
			name:    "zero rail rate",
			mutate:  func(c *Config) { c.Connection.RailRatesMs = []int{100, 0} },
			wantErr: "rail_rates_ms[1]",
		},
		{
			name:    "bad version",
			mutate:  func(c *Config) { c.Node.DataPools[0].Version = "one" },
			wantErr: "version",
		},
		{
			name:    "version component too large",
			mutate:  func(c *Config) { c.Node.DataPools[0].Version = "1.256.0" },
			wantErr: "exceeds 255",
		},
		{
			name:    "unknown element type",
			mutate:  func(c *Config) { c.Node.DataPools[0].Lists[0].Elements[0].Type = "bool" },
			wantErr: "unknown type",
		},
		{
			name: "duplicate element",
			mutate: func(c *Config) {
				els := c.Node.DataPools[0].Lists[0].Elements
				els[1].Name = els[0].Name
			},
			wantErr: "duplicate element",
		},
		{
			name:    "too many initial values",
			mutate:  func(c *Config) { c.Node.DataPools[0].Lists[0].Elements[0].Initial = []float64{1, 2} },
			wantErr: "initial values",
		},
		{
			name:    "NVM outside image",
			mutate:  func(c *Config) { c.Node.DataPools[1].NvmAddress = uint32(c.Node.NvmSize) - 4 },
			wantErr: "exceeds nvm_size",
		},
		{
			name: "NVM overlap",
			mutate: func(c *Config) {
				dp := c.Node.DataPools[1]
				dp.Name = "Copy"
				dp.NvmAddress += 4
				c.Node.DataPools = append(c.Node.DataPools, dp)
			},
			wantErr: "overlap",
		},
		{
			name:    "signal outside DLC",
			mutate:  func(c *Config) { c.Messages[0].DLC = 2 },
			wantErr: "does not fit",
		},
		{
			name:    "bad byte order",
			mutate:  func(c *Config) { c.Messages[0].Signals[0].ByteOrder = "middle" },
			wantErr: "byte order",
		},
		{
			name:    "drop percentage",
			mutate:  func(c *Config) { c.Simulator.Faults.Reliability.DropResponsePct = 1.5 },
			wantErr: "drop_response_pct",
		},
		{
			name:    "log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := CreateDefaultConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateConfig() error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ValidateConfig() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osydiag.yaml")
	configContent := `
connection:
  address: "10.0.0.5:13400"
  source_address: 0x0F10
  target_address: 0x0002
  rail_rates_ms: [200, 100, 10]

node:
  name: "Test Node"
  datapools:
    - name: "Diag"
      version: "2.1.0"
      lists:
        - name: "Values"
          elements:
            - name: "Speed"
              type: "uint16"
`
	if err := os.WriteFile(path, []byte(configContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Connection.Address != "10.0.0.5:13400" {
		t.Errorf("address: got %q", cfg.Connection.Address)
	}
	if cfg.Connection.SourceAddress != 0x0F10 || cfg.Connection.TargetAddress != 0x0002 {
		t.Errorf("logical addresses: got 0x%04X -> 0x%04X", cfg.Connection.SourceAddress, cfg.Connection.TargetAddress)
	}
	if cfg.Connection.TimeoutMs != DefaultTimeoutMs {
		t.Errorf("timeout: got %d, want %d (default)", cfg.Connection.TimeoutMs, DefaultTimeoutMs)
	}
	if cfg.Node.NvmSize != DefaultNvmSize {
		t.Errorf("nvm size: got %d, want default", cfg.Node.NvmSize)
	}
	if len(cfg.Connection.RailRatesMs) != 3 || cfg.Connection.RailRatesMs[2] != 10 {
		t.Errorf("rail rates: got %v", cfg.Connection.RailRatesMs)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osydiag.yaml")
	if err := WriteDefaultConfig(path); err != nil {
		t.Fatalf("WriteDefaultConfig: %v", err)
	}
	t.Setenv("OSYDIAG_ADDRESS", "192.168.0.20:13400")
	t.Setenv("OSYDIAG_TARGET_ADDRESS", "7")
	t.Setenv("OSYDIAG_RAIL_RATES_MS", "50,40,30")

	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Connection.Address != "192.168.0.20:13400" {
		t.Errorf("address: got %q", cfg.Connection.Address)
	}
	if cfg.Connection.TargetAddress != 7 {
		t.Errorf("target address: got %d", cfg.Connection.TargetAddress)
	}
	if len(cfg.Connection.RailRatesMs) != 3 || cfg.Connection.RailRatesMs[0] != 50 {
		t.Errorf("rail rates: got %v", cfg.Connection.RailRatesMs)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := LoadConfig(path, false); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("LoadConfig() = %v, want not found", err)
	}

	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig(autoCreate) failed: %v", err)
	}
	if len(cfg.Node.DataPools) != 2 {
		t.Errorf("default datapools: got %d", len(cfg.Node.DataPools))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := ParseVersion("1.2.3")
	if err != nil {
		t.Fatalf("ParseVersion() error: %v", err)
	}
	if v != (diag.Version{1, 2, 3}) {
		t.Errorf("ParseVersion() = %v", v)
	}
	for _, bad := range []string{"", "x.y.z", "1.2.3-beta", "300.0.0"} {
		if _, err := ParseVersion(bad); err == nil {
			t.Errorf("ParseVersion(%q) accepted", bad)
		}
	}
}

func TestNodeLookup(t *testing.T) {
	cfg := CreateDefaultConfig()

	ref, err := cfg.Node.Lookup("Parameters.Calibration.SerialNumber")
	if err != nil {
		t.Fatalf("Lookup by name: %v", err)
	}
	if ref.ID != (diag.ElementID{DataPool: 1, List: 0, Element: 2}) {
		t.Errorf("id = %v", ref.ID)
	}
	if ref.Element.Size() != 8 || !ref.Element.IsArray() {
		t.Errorf("SerialNumber size %d", ref.Element.Size())
	}
	if ref.NvmAddress() != 0x0100+8 {
		t.Errorf("NVM address = 0x%X, want 0x108", ref.NvmAddress())
	}
	if ref.Path() != "Parameters.Calibration.SerialNumber" {
		t.Errorf("Path() = %q", ref.Path())
	}

	byIndex, err := cfg.Node.Lookup("0.0.1")
	if err != nil || byIndex.Element.Name != "Temperature" {
		t.Errorf("Lookup by index = %+v, %v", byIndex.Element, err)
	}

	if _, err := cfg.Node.Lookup("0.0.9"); !errors.Is(err, diag.ErrOutOfRange) {
		t.Errorf("missing element: %v", err)
	}
	if _, err := cfg.Node.Lookup("40.0.0"); !errors.Is(err, diag.ErrOutOfRange) {
		t.Errorf("index beyond packed range: %v", err)
	}
	if _, err := cfg.Node.Lookup("Nope.A.B"); err == nil {
		t.Error("unknown name accepted")
	}
	if _, err := cfg.Node.Lookup("too.short"); err == nil {
		t.Error("short path accepted")
	}

	if idx, err := cfg.Node.DataPoolIndex("Parameters"); err != nil || idx != 1 {
		t.Errorf("DataPoolIndex(name) = %d, %v", idx, err)
	}
	if idx, err := cfg.Node.DataPoolIndex("5"); err != nil || idx != 5 {
		t.Errorf("DataPoolIndex(index) = %d, %v", idx, err)
	}
}

func TestDataPoolChecksum(t *testing.T) {
	cfg := CreateDefaultConfig()
	dp := cfg.Node.DataPools[0]
	sum := DataPoolChecksum(dp)
	if sum == 0 {
		t.Fatal("derived checksum is zero")
	}
	if DataPoolChecksum(dp) != sum {
		t.Error("checksum not deterministic")
	}
	dp.Lists[0].Elements[0].Type = "uint32"
	if DataPoolChecksum(dp) == sum {
		t.Error("checksum ignores element type")
	}
	dp.Checksum = 0xCAFE
	if DataPoolChecksum(dp) != 0xCAFE {
		t.Error("configured checksum not used")
	}
}

func TestMessageConfig(t *testing.T) {
	cfg := CreateDefaultConfig()
	msg, err := cfg.FindMessage("Status")
	if err != nil {
		t.Fatalf("FindMessage: %v", err)
	}
	temp, ok := msg.Signal("Temperature")
	if !ok || temp.Descriptor.ByteOrder != signal.Motorola || !temp.Signed {
		t.Errorf("Temperature signal = %+v", temp)
	}
	if _, err := cfg.FindMessage("Missing"); err == nil {
		t.Error("unknown message accepted")
	}
}
