package app

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/logging"
	"github.com/tonylturner/osydiag/internal/osy/server"
)

func TestApplySimMode(t *testing.T) {
	tests := []struct {
		name        string
		mode        string
		wantErr     bool
		wantFaults  bool
		wantLevel   string
		checkFaults func(*testing.T, config.FaultConfig)
	}{
		{name: "baseline mode", mode: "baseline", wantLevel: "info"},
		{name: "perf mode", mode: "perf", wantLevel: "error"},
		{
			name:       "slow mode",
			mode:       "slow",
			wantFaults: true,
			wantLevel:  "info",
			checkFaults: func(t *testing.T, f config.FaultConfig) {
				if f.Reliability.PendingEveryN == 0 || f.Latency.SpikeDelayMs == 0 {
					t.Errorf("slow faults = %+v", f)
				}
			},
		},
		{
			name:       "flaky mode",
			mode:       "flaky",
			wantFaults: true,
			wantLevel:  "info",
			checkFaults: func(t *testing.T, f config.FaultConfig) {
				if f.Reliability.DropResponseEveryN == 0 || f.Reliability.CloseConnectionEveryN == 0 {
					t.Errorf("flaky faults = %+v", f)
				}
			},
		},
		{name: "invalid mode", mode: "torture", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.CreateDefaultConfig()
			err := ApplySimMode(cfg, tt.mode)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ApplySimMode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.Simulator.Faults.Enable != tt.wantFaults {
				t.Errorf("Faults.Enable = %v, want %v", cfg.Simulator.Faults.Enable, tt.wantFaults)
			}
			if cfg.Logging.Level != tt.wantLevel {
				t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, tt.wantLevel)
			}
			if tt.checkFaults != nil {
				tt.checkFaults(t, cfg.Simulator.Faults)
			}
			if err := config.ValidateConfig(cfg); err != nil {
				t.Errorf("preset produced invalid config: %v", err)
			}
		})
	}
}

func TestParseValues(t *testing.T) {
	values, err := ParseValues("1, 2.5 -3")
	if err != nil || len(values) != 3 || values[1] != 2.5 || values[2] != -3 {
		t.Errorf("ParseValues() = %v, %v", values, err)
	}
	if _, err := ParseValues(" , "); err == nil {
		t.Error("empty list accepted")
	}
	if _, err := ParseValues("1,x"); err == nil {
		t.Error("non-number accepted")
	}

	pairs, err := ParseSignalValues([]string{"Temperature=-5", "Alive=3"})
	if err != nil || pairs["Temperature"] != -5 || pairs["Alive"] != 3 {
		t.Errorf("ParseSignalValues() = %v, %v", pairs, err)
	}
	for _, bad := range []string{"Temperature", "=1", "Alive=abc"} {
		if _, err := ParseSignalValues([]string{bad}); err == nil {
			t.Errorf("ParseSignalValues(%q) accepted", bad)
		}
	}
}

func startSimulator(t *testing.T) (*server.Server, string) {
	t.Helper()
	cfg := config.CreateDefaultConfig()
	cfg.Simulator.ListenAddress = "127.0.0.1:0"
	srv, err := server.NewServer(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, srv.TCPAddr().String()
}

func TestSessionCommands(t *testing.T) {
	srv, addr := startSimulator(t)
	ctx := context.Background()
	metricsFile := filepath.Join(t.TempDir(), "metrics.csv")

	var out bytes.Buffer
	sess := SessionOptions{Address: addr, LogLevel: "silent", Out: &out}

	if err := RunRead(ctx, ReadOptions{Session: sess, Paths: []string{"DiagData.Measurements.SupplyVoltage", "0.0.1"}}); err != nil {
		t.Fatalf("RunRead() error: %v", err)
	}
	for _, want := range []string{"DiagData.Measurements.SupplyVoltage = 12000 mV", "DiagData.Measurements.Temperature = 25 degC"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("read output missing %q:\n%s", want, out.String())
		}
	}

	out.Reset()
	if err := RunWrite(ctx, WriteOptions{Session: sess, Path: "DiagData.Measurements.Setpoints", Values: []float64{1.5, 2}}); err != nil {
		t.Fatalf("RunWrite() error: %v", err)
	}
	if err := RunRead(ctx, ReadOptions{Session: sess, Paths: []string{"DiagData.Measurements.Setpoints"}}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "[1.5 2 0 0]") {
		t.Errorf("array read back:\n%s", out.String())
	}

	out.Reset()
	nvmSess := sess
	nvmSess.MetricsFile = metricsFile
	if err := RunWrite(ctx, WriteOptions{Session: nvmSess, Path: "Parameters.Calibration.Gain", Values: []float64{2.5}, Nvm: true}); err != nil {
		t.Fatalf("NVM write error: %v", err)
	}
	if err := RunRead(ctx, ReadOptions{Session: sess, Paths: []string{"Parameters.Calibration.Gain"}, Nvm: true}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "Parameters.Calibration.Gain = 2.5") {
		t.Errorf("NVM read back:\n%s", out.String())
	}
	if len(srv.Node().Changes()) != 1 {
		t.Errorf("changes = %+v", srv.Node().Changes())
	}

	out.Reset()
	if err := RunDataPoolInfo(ctx, DataPoolOptions{Session: sess}); err != nil {
		t.Fatalf("RunDataPoolInfo() error: %v", err)
	}
	if err := RunDataPoolVerify(ctx, DataPoolOptions{Session: sess, DataPools: []string{"DiagData", "Parameters"}}); err != nil {
		t.Fatalf("RunDataPoolVerify() error: %v", err)
	}
	for _, want := range []string{"Node ExampleNode", "v01.00r00", "v01.02r00", "checksum match"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("datapool output missing %q:\n%s", want, out.String())
		}
	}
	if err := RunDataPoolNotify(ctx, DataPoolOptions{Session: sess, DataPools: []string{"DiagData"}}); err == nil {
		t.Error("notify on RAM datapool succeeded")
	}

	if err := RunRead(ctx, ReadOptions{Session: sess, Paths: []string{"DiagData.Nothing.Here"}}); err == nil {
		t.Error("unknown element accepted")
	}

	out.Reset()
	if err := RunMetricsSummary(metricsFile, &out); err != nil {
		t.Fatalf("RunMetricsSummary() error: %v", err)
	}
	if !strings.Contains(out.String(), "Total Operations: 2") {
		t.Errorf("metrics summary:\n%s", out.String())
	}
}

func TestUnreachableNode(t *testing.T) {
	err := RunRead(context.Background(), ReadOptions{
		Session: SessionOptions{Address: "127.0.0.1:1", TimeoutMs: 200, LogLevel: "silent", Out: &bytes.Buffer{}},
		Paths:   []string{"0.0.0"},
	})
	if err == nil || !strings.Contains(err.Error(), "Failed to reach openSYDE node") {
		t.Errorf("error = %v", err)
	}
}

func TestSignalEncodeDecode(t *testing.T) {
	traceFile := filepath.Join(t.TempDir(), "status.pcap")
	var out bytes.Buffer

	err := RunSignalEncode(SignalEncodeOptions{
		Message: "Status",
		Values:  map[string]float64{"Temperature": -5, "Alive": 3},
		Output:  traceFile,
		Count:   3,
		Out:     &out,
	})
	if err != nil {
		t.Fatalf("RunSignalEncode() error: %v", err)
	}
	if !strings.Contains(out.String(), "Status(0x181) [8] 00 00 FB 03 00 00 00 00") {
		t.Errorf("encode output:\n%s", out.String())
	}

	out.Reset()
	if err := RunSignalDecode(SignalDecodeOptions{Input: traceFile, Out: &out}); err != nil {
		t.Fatalf("RunSignalDecode() error: %v", err)
	}
	for _, want := range []string{"Temperature=-5 degC", "Alive=3", "3 of 3 frames decoded"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("decode output missing %q:\n%s", want, out.String())
		}
	}

	if err := RunSignalEncode(SignalEncodeOptions{Message: "Status", Values: map[string]float64{"Nope": 1}, Out: &out}); err == nil {
		t.Error("unknown signal accepted")
	}
	if err := RunSignalDecode(SignalDecodeOptions{Input: traceFile, Message: "Missing", Out: &out}); err == nil {
		t.Error("unknown message accepted")
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "osydiag.yaml")
	var out bytes.Buffer
	if err := RunConfigInit(path, false, &out); err != nil {
		t.Fatalf("RunConfigInit() error: %v", err)
	}
	if err := RunConfigInit(path, false, &out); err == nil {
		t.Error("existing config overwritten without force")
	}
	if err := RunConfigInit(path, true, &out); err != nil {
		t.Errorf("forced init error: %v", err)
	}
	out.Reset()
	if err := RunConfigValidate(path, &out); err != nil {
		t.Fatalf("RunConfigValidate() error: %v", err)
	}
	if !strings.Contains(out.String(), "Config OK") || !strings.Contains(out.String(), "2 datapool(s), 7 element(s), 1 message(s)") {
		t.Errorf("validate output: %s", out.String())
	}
}

func TestMonitorSubscribeError(t *testing.T) {
	_, addr := startSimulator(t)
	var out bytes.Buffer
	start := time.Now()
	err := RunMonitor(context.Background(), MonitorOptions{
		Session:  SessionOptions{Address: addr, LogLevel: "silent", Out: &out},
		Cyclic:   []string{"DiagData.Measurements.SupplyVoltage", "DiagData.Nothing.Here"},
		Duration: 5 * time.Second,
	})
	if err == nil || !strings.Contains(err.Error(), "subscribe DiagData.Nothing.Here") {
		t.Fatalf("RunMonitor() error = %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("RunMonitor() waited for the duration after a failed subscription")
	}
}
