// Package trace reads and writes CAN bus traces as SocketCAN pcap files, the
// format produced by candump/Wireshark on Linux.
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tonylturner/osydiag/internal/can"
	"github.com/tonylturner/osydiag/internal/can/signal"
)

// LinkTypeSocketCAN is LINKTYPE_CAN_SOCKETCAN.
const LinkTypeSocketCAN = layers.LinkType(227)

const (
	frameSize = 16
	snapLen   = 65535

	flagExtended = 0x80000000
	flagRTR      = 0x40000000
	flagError    = 0x20000000
)

var (
	// ErrLinkType is returned when a capture file does not hold SocketCAN frames.
	ErrLinkType = errors.New("trace: not a SocketCAN capture")
	// ErrFrame marks a captured packet that is not a usable data frame.
	ErrFrame = errors.New("trace: bad frame")
)

// Record is one captured frame.
type Record struct {
	Timestamp time.Time
	Frame     can.Frame
}

// MarshalFrame encodes a frame in the 16-byte SocketCAN layout.
func MarshalFrame(f can.Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	raw := make([]byte, frameSize)
	id := f.ID
	if f.Extended {
		id |= flagExtended
	}
	binary.BigEndian.PutUint32(raw[0:4], id)
	raw[4] = f.DLC
	copy(raw[8:], f.Data[:])
	return raw, nil
}

// UnmarshalFrame decodes a 16-byte SocketCAN frame. RTR and error frames are
// rejected since they carry no signal data.
func UnmarshalFrame(raw []byte) (can.Frame, error) {
	if len(raw) < 8 {
		return can.Frame{}, fmt.Errorf("trace: short frame: %d bytes", len(raw))
	}
	id := binary.BigEndian.Uint32(raw[0:4])
	if id&(flagRTR|flagError) != 0 {
		return can.Frame{}, fmt.Errorf("trace: unsupported frame flags 0x%08X", id)
	}
	f := can.Frame{DLC: raw[4]}
	if id&flagExtended != 0 {
		f.Extended = true
		f.ID = id & can.MaxExtendedID
	} else {
		f.ID = id & can.MaxStandardID
	}
	if f.DLC > signal.PayloadSize {
		return can.Frame{}, fmt.Errorf("%w: %d", can.ErrInvalidDLC, f.DLC)
	}
	if len(raw) < 8+int(f.DLC) {
		return can.Frame{}, fmt.Errorf("trace: truncated frame data")
	}
	copy(f.Data[:], raw[8:8+int(f.DLC)])
	return f, nil
}

// Writer appends frames to a pcap stream.
type Writer struct {
	w *pcapgo.Writer
}

// NewWriter writes the pcap file header and returns a frame writer.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, LinkTypeSocketCAN); err != nil {
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &Writer{w: pw}, nil
}

// WriteFrame appends one frame.
func (w *Writer) WriteFrame(ts time.Time, f can.Frame) error {
	raw, err := MarshalFrame(f)
	if err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(raw),
		Length:        len(raw),
	}
	if err := w.w.WritePacket(ci, raw); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// Reader iterates the frames of a pcap stream.
type Reader struct {
	r *pcapgo.Reader
}

// NewReader checks the pcap header and returns a frame reader.
func NewReader(r io.Reader) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	if pr.LinkType() != LinkTypeSocketCAN {
		return nil, fmt.Errorf("%w: link type %d", ErrLinkType, pr.LinkType())
	}
	return &Reader{r: pr}, nil
}

// Next returns the next frame or io.EOF.
func (r *Reader) Next() (Record, error) {
	data, ci, err := r.r.ReadPacketData()
	if err != nil {
		return Record{}, err
	}
	f, err := UnmarshalFrame(data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrFrame, err)
	}
	return Record{Timestamp: ci.Timestamp, Frame: f}, nil
}

// ReadFile loads every data frame of a capture. Frames that cannot be
// decoded are counted and skipped.
func ReadFile(path string) ([]Record, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open trace: %w", err)
	}
	defer file.Close()

	r, err := NewReader(file)
	if err != nil {
		return nil, 0, err
	}
	var records []Record
	skipped := 0
	for {
		rec, err := r.Next()
		switch {
		case err == nil:
		case errors.Is(err, ErrFrame):
			skipped++
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return records, skipped, nil
		default:
			return records, skipped, fmt.Errorf("read trace: %w", err)
		}
		records = append(records, rec)
	}
}

// WriteFile writes records to a new capture file.
func WriteFile(path string, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create trace: %w", err)
	}
	defer file.Close()

	w, err := NewWriter(file)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := w.WriteFrame(rec.Timestamp, rec.Frame); err != nil {
			return err
		}
	}
	return nil
}
