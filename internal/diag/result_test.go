package diag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestResultOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Result
	}{
		{"nil", nil, ResultSuccess},
		{"out of range", fmt.Errorf("element 99: %w", ErrOutOfRange), ResultOutOfRange},
		{"not sendable", ErrNotSendable, ResultNotSendable},
		{"not configured", ErrNotConfigured, ResultNotConfigured},
		{"timeout", fmt.Errorf("read: %w", ErrResponseTimeout), ResultResponseTimeout},
		{"context deadline", context.DeadlineExceeded, ResultResponseTimeout},
		{"negative response", &NegativeResponseError{Service: 0xBA, Code: 0x31}, ResultNegativeResponse},
		{"wrapped negative", fmt.Errorf("x: %w", &NegativeResponseError{Service: 0xBA, Code: 0x22}), ResultNegativeResponse},
		{"malformed", ErrMalformedResponse, ResultMalformedResponse},
		{"busy", ErrBusy, ResultBusy},
		{"unknown", io.ErrClosedPipe, ResultCommunicationError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultOf(tt.err); got != tt.want {
				t.Errorf("ResultOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNegativeResponseError(t *testing.T) {
	err := fmt.Errorf("write element: %w", &NegativeResponseError{Service: 0xBB, Code: 0x33})
	if !errors.Is(err, ErrNegativeResponse) {
		t.Error("errors.Is(err, ErrNegativeResponse) = false")
	}
	code, ok := NRC(err)
	if !ok || code != 0x33 {
		t.Errorf("NRC() = 0x%02X, %v; want 0x33, true", code, ok)
	}
	if _, ok := NRC(ErrOutOfRange); ok {
		t.Error("NRC() on non-negative error returned ok")
	}
}

func TestVersionString(t *testing.T) {
	v := Version{1, 2, 3}
	if got := v.String(); got != "v01.02r03" {
		t.Errorf("String() = %q", got)
	}
	if got := v.Semver(); got != "1.2.3" {
		t.Errorf("Semver() = %q", got)
	}
}

func TestElementIDString(t *testing.T) {
	id := ElementID{DataPool: 2, List: 10, Element: 300}
	if got := id.String(); got != "2.10.300" {
		t.Errorf("String() = %q", got)
	}
}

func TestResultString(t *testing.T) {
	if ResultNegativeResponse.String() != "negative_response" {
		t.Errorf("String() = %q", ResultNegativeResponse.String())
	}
	if Result(99).String() != "result(99)" {
		t.Errorf("String() = %q", Result(99).String())
	}
}

func TestValueCodec(t *testing.T) {
	tests := []struct {
		typ    ValueType
		order  Endianness
		values []float64
		want   []byte
	}{
		{TypeUint16, BigEndian, []float64{0x1234}, []byte{0x12, 0x34}},
		{TypeUint16, LittleEndian, []float64{0x1234}, []byte{0x34, 0x12}},
		{TypeInt16, BigEndian, []float64{-2}, []byte{0xFF, 0xFE}},
		{TypeInt8, BigEndian, []float64{-1, 5}, []byte{0xFF, 0x05}},
		{TypeUint32, BigEndian, []float64{1}, []byte{0, 0, 0, 1}},
		{TypeFloat32, BigEndian, []float64{1}, []byte{0x3F, 0x80, 0, 0}},
		{TypeInt64, LittleEndian, []float64{-1}, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.typ, tt.order), func(t *testing.T) {
			got, err := EncodeFloats(tt.typ, tt.order, tt.values, len(tt.values))
			if err != nil {
				t.Fatalf("EncodeFloats() error: %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("EncodeFloats() = % X, want % X", got, tt.want)
			}
			back, err := DecodeFloats(tt.typ, tt.order, got)
			if err != nil {
				t.Fatalf("DecodeFloats() error: %v", err)
			}
			for i := range tt.values {
				if back[i] != tt.values[i] {
					t.Errorf("value %d = %v, want %v", i, back[i], tt.values[i])
				}
			}
		})
	}
}

func TestValueCodecErrors(t *testing.T) {
	if _, err := EncodeFloats(TypeUint8, BigEndian, []float64{256}, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("uint8 overflow: %v", err)
	}
	if _, err := EncodeFloats(TypeInt8, BigEndian, []float64{-129}, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("int8 underflow: %v", err)
	}
	if _, err := EncodeFloats(TypeUint16, BigEndian, []float64{-1}, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("negative unsigned: %v", err)
	}
	if _, err := EncodeFloats("bool", BigEndian, nil, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("unknown type: %v", err)
	}
	if _, err := EncodeFloats(TypeUint8, BigEndian, []float64{1, 2}, 1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("too many values: %v", err)
	}
	if _, err := DecodeFloats(TypeUint32, BigEndian, []byte{1, 2, 3}); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("short raw: %v", err)
	}
	padded, _ := EncodeFloats(TypeUint16, BigEndian, []float64{7}, 3)
	if !bytes.Equal(padded, []byte{0, 7, 0, 0, 0, 0}) {
		t.Errorf("padding = % X", padded)
	}
}
