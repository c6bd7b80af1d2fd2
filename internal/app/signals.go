package app

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/tonylturner/osydiag/internal/can"
	"github.com/tonylturner/osydiag/internal/can/trace"
	"github.com/tonylturner/osydiag/internal/config"
)

type SignalDecodeOptions struct {
	ConfigPath string
	Input      string
	// Message limits decoding to one configured message.
	Message string
	Out     io.Writer
}

// RunSignalDecode decodes the configured messages found in a SocketCAN trace.
func RunSignalDecode(opts SignalDecodeOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	messages, err := selectMessages(cfg, opts.Message)
	if err != nil {
		return err
	}
	records, skipped, err := trace.ReadFile(opts.Input)
	if err != nil {
		return err
	}
	out := output(opts.Out)

	decoded := 0
	var first time.Time
	for _, rec := range records {
		for _, msg := range messages {
			if !msg.Matches(rec.Frame) {
				continue
			}
			values, err := msg.Decode(rec.Frame)
			if err != nil {
				return err
			}
			if first.IsZero() {
				first = rec.Timestamp
			}
			decoded++
			fmt.Fprintf(out, "%s %s %s\n",
				dimStyle.Render(fmt.Sprintf("%9.3fs", rec.Timestamp.Sub(first).Seconds())),
				pathStyle.Render(fmt.Sprintf("%s(0x%X)", msg.Name, msg.ID)),
				formatSignals(msg, values))
		}
	}

	summary := fmt.Sprintf("%d of %d frames decoded", decoded, len(records))
	if skipped > 0 {
		summary += fmt.Sprintf(", %d unreadable", skipped)
	}
	fmt.Fprintln(out, dimStyle.Render(summary))
	return nil
}

func selectMessages(cfg *config.Config, name string) ([]can.Message, error) {
	if name != "" {
		msg, err := cfg.FindMessage(name)
		if err != nil {
			return nil, err
		}
		return []can.Message{msg}, nil
	}
	messages := make([]can.Message, 0, len(cfg.Messages))
	for _, mc := range cfg.Messages {
		msg, err := mc.Message()
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages configured")
	}
	return messages, nil
}

func formatSignals(msg can.Message, values map[string]float64) string {
	parts := make([]string, 0, len(values))
	for _, s := range msg.Signals {
		v, ok := values[s.Name]
		if !ok {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%g%s", s.Name, v, unit(s.Unit)))
	}
	return strings.Join(parts, " ")
}

type SignalEncodeOptions struct {
	ConfigPath string
	Message    string
	// Values maps signal names to physical values.
	Values map[string]float64
	// Output receives a trace with Count frames spaced Period apart. Without
	// an output file the frame is printed.
	Output string
	Count  int
	Period time.Duration
	Out    io.Writer
}

// RunSignalEncode packs physical values into a frame of a configured message.
func RunSignalEncode(opts SignalEncodeOptions) error {
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	msg, err := cfg.FindMessage(opts.Message)
	if err != nil {
		return err
	}
	frame, err := msg.Encode(opts.Values)
	if err != nil {
		return err
	}
	out := output(opts.Out)

	fmt.Fprintf(out, "%s %s\n", pathStyle.Render(fmt.Sprintf("%s(0x%X)", msg.Name, msg.ID)), formatFrame(frame))
	if opts.Output == "" {
		return nil
	}

	count := opts.Count
	if count <= 0 {
		count = 1
	}
	period := opts.Period
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	start := time.Now()
	records := make([]trace.Record, count)
	for i := range records {
		records[i] = trace.Record{Timestamp: start.Add(time.Duration(i) * period), Frame: frame}
	}
	if err := trace.WriteFile(opts.Output, records); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %d frame(s) to %s\n", status(true, "Wrote", ""), count, opts.Output)
	return nil
}

func formatFrame(f can.Frame) string {
	parts := make([]string, f.DLC)
	for i := range parts {
		parts[i] = fmt.Sprintf("%02X", f.Data[i])
	}
	return fmt.Sprintf("[%d] %s", f.DLC, strings.Join(parts, " "))
}

// ParseSignalValues parses "name=value" pairs.
func ParseSignalValues(pairs []string) (map[string]float64, error) {
	values := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid signal value %q (want name=value)", pair)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %q", name, raw)
		}
		values[name] = v
	}
	return values, nil
}

