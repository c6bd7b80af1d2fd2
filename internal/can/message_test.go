package can

import (
	"errors"
	"testing"

	"github.com/tonylturner/osydiag/internal/can/signal"
)

func testMessage() Message {
	return Message{
		Name: "EngineStatus",
		ID:   0x123,
		DLC:  4,
		Signals: []Signal{
			{Name: "Speed", Descriptor: signal.Descriptor{StartBit: 7, BitLength: 16, ByteOrder: signal.Motorola}, Factor: 0.25, Unit: "rpm"},
			{Name: "Temp", Descriptor: signal.Descriptor{StartBit: 16, BitLength: 8, ByteOrder: signal.Intel}, Offset: -40, Unit: "degC"},
			{Name: "Torque", Descriptor: signal.Descriptor{StartBit: 24, BitLength: 8, ByteOrder: signal.Intel}, Signed: true},
		},
	}
}

func TestFrameValidate(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr error
	}{
		{"standard", Frame{ID: 0x7FF, DLC: 8}, nil},
		{"extended", Frame{ID: 0x1FFFFFFF, Extended: true, DLC: 0}, nil},
		{"standard id too large", Frame{ID: 0x800, DLC: 8}, ErrInvalidID},
		{"extended id too large", Frame{ID: 0x20000000, Extended: true}, ErrInvalidID},
		{"dlc too large", Frame{ID: 1, DLC: 9}, ErrInvalidDLC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMessageValidate(t *testing.T) {
	m := testMessage()
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	m.DLC = 3
	if err := m.Validate(); !errors.Is(err, signal.ErrSignalRange) {
		t.Errorf("Validate() with short DLC = %v, want ErrSignalRange", err)
	}

	m = testMessage()
	m.Signals = append(m.Signals, m.Signals[0])
	if err := m.Validate(); err == nil {
		t.Error("expected duplicate signal error")
	}
}

func TestMessageEncodeDecode(t *testing.T) {
	m := testMessage()
	in := map[string]float64{"Speed": 1200.5, "Temp": 85, "Torque": -12}

	f, err := m.Encode(in)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	// 1200.5 / 0.25 = 4802 = 0x12C2, Motorola
	if f.Data[0] != 0x12 || f.Data[1] != 0xC2 {
		t.Errorf("speed bytes = % X, want 12 C2", f.Data[:2])
	}
	if f.Data[2] != 125 {
		t.Errorf("temp raw = %d, want 125", f.Data[2])
	}
	if f.Data[3] != 0xF4 {
		t.Errorf("torque raw = 0x%02X, want 0xF4", f.Data[3])
	}

	out, err := m.Decode(f)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	for name, want := range in {
		if out[name] != want {
			t.Errorf("%s = %v, want %v", name, out[name], want)
		}
	}
}

func TestMessageDecodeShortFrame(t *testing.T) {
	m := testMessage()
	f := Frame{ID: m.ID, DLC: 2, Data: signal.Payload{0x00, 0x04}}
	out, err := m.Decode(f)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("decoded %d signals, want 1", len(out))
	}
	if out["Speed"] != 1 {
		t.Errorf("Speed = %v, want 1", out["Speed"])
	}
}

func TestMessageEncodeUnknownSignal(t *testing.T) {
	m := testMessage()
	if _, err := m.Encode(map[string]float64{"Nope": 1}); err == nil {
		t.Error("expected error for unknown signal")
	}
}
