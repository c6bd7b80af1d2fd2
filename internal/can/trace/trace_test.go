package trace

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tonylturner/osydiag/internal/can"
	"github.com/tonylturner/osydiag/internal/can/signal"
)

func TestMarshalFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame can.Frame
		want  []byte
	}{
		{
			name:  "standard",
			frame: can.Frame{ID: 0x123, DLC: 2, Data: signal.Payload{0xAA, 0xBB}},
			want:  []byte{0x00, 0x00, 0x01, 0x23, 0x02, 0, 0, 0, 0xAA, 0xBB, 0, 0, 0, 0, 0, 0},
		},
		{
			name:  "extended",
			frame: can.Frame{ID: 0x18DAF100, Extended: true, DLC: 1, Data: signal.Payload{0x01}},
			want:  []byte{0x98, 0xDA, 0xF1, 0x00, 0x01, 0, 0, 0, 0x01, 0, 0, 0, 0, 0, 0, 0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalFrame(tt.frame)
			if err != nil {
				t.Fatalf("MarshalFrame() error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("MarshalFrame() = % X, want % X", got, tt.want)
			}
			back, err := UnmarshalFrame(got)
			if err != nil {
				t.Fatalf("UnmarshalFrame() error: %v", err)
			}
			if back != tt.frame {
				t.Errorf("UnmarshalFrame() = %+v, want %+v", back, tt.frame)
			}
		})
	}
}

func TestUnmarshalFrameRejects(t *testing.T) {
	rtr := []byte{0x40, 0x00, 0x01, 0x23, 0x00, 0, 0, 0}
	if _, err := UnmarshalFrame(rtr); err == nil {
		t.Error("expected error for RTR frame")
	}
	if _, err := UnmarshalFrame([]byte{0x00}); err == nil {
		t.Error("expected error for short frame")
	}
	badDLC := []byte{0x00, 0x00, 0x01, 0x23, 0x09, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	if _, err := UnmarshalFrame(badDLC); !errors.Is(err, can.ErrInvalidDLC) {
		t.Errorf("UnmarshalFrame() = %v, want ErrInvalidDLC", err)
	}
}

func TestWriterReader(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		t.Fatalf("NewWriter() error: %v", err)
	}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 250000000, time.UTC)
	frames := []can.Frame{
		{ID: 0x100, DLC: 8, Data: signal.Payload{1, 2, 3, 4, 5, 6, 7, 8}},
		{ID: 0x1ABCDE, Extended: true, DLC: 3, Data: signal.Payload{9, 8, 7}},
	}
	for i, f := range frames {
		if err := w.WriteFrame(ts.Add(time.Duration(i)*time.Millisecond), f); err != nil {
			t.Fatalf("WriteFrame() error: %v", err)
		}
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader() error: %v", err)
	}
	for i, want := range frames {
		rec, err := r.Next()
		if err != nil {
			t.Fatalf("Next() error: %v", err)
		}
		if rec.Frame != want {
			t.Errorf("frame %d = %+v, want %+v", i, rec.Frame, want)
		}
		if !rec.Timestamp.Equal(ts.Add(time.Duration(i) * time.Millisecond)) {
			t.Errorf("frame %d timestamp = %v", i, rec.Timestamp)
		}
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("Next() at end = %v, want io.EOF", err)
	}
}

func TestNewReaderWrongLinkType(t *testing.T) {
	var buf bytes.Buffer
	pw := pcapgo.NewWriter(&buf)
	if err := pw.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader() error: %v", err)
	}
	if _, err := NewReader(&buf); !errors.Is(err, ErrLinkType) {
		t.Errorf("NewReader() = %v, want ErrLinkType", err)
	}
}

func TestReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.pcap")
	records := []Record{
		{Timestamp: time.Unix(1700000000, 0), Frame: can.Frame{ID: 0x321, DLC: 1, Data: signal.Payload{0x42}}},
	}
	if err := WriteFile(path, records); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	got, skipped, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(got) != 1 || got[0].Frame != records[0].Frame {
		t.Errorf("ReadFile() = %+v", got)
	}
}
