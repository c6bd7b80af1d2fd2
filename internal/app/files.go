package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tonylturner/osydiag/internal/config"
	"github.com/tonylturner/osydiag/internal/metrics"
)

// RunConfigInit writes the default configuration to path. An existing file
// is only replaced when force is set.
func RunConfigInit(path string, force bool, w io.Writer) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	fmt.Fprintf(output(w), "%s %s\n", status(true, "Wrote", ""), path)
	return nil
}

// RunConfigValidate loads and validates a configuration file.
func RunConfigValidate(path string, w io.Writer) error {
	cfg, err := config.LoadConfig(path, false)
	if err != nil {
		return err
	}
	elements := 0
	for _, dp := range cfg.Node.DataPools {
		elements += dp.ElementCount()
	}
	fmt.Fprintf(output(w), "Config OK: %s (%d datapool(s), %d element(s), %d message(s))\n",
		path, len(cfg.Node.DataPools), elements, len(cfg.Messages))
	return nil
}

// RunMetricsSummary prints the summary of a metrics CSV file.
func RunMetricsSummary(path string, w io.Writer) error {
	records, first, last, err := metrics.ReadMetricsCSV(path)
	if err != nil {
		return err
	}
	out := output(w)
	fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Metrics %s", path)))
	if !first.IsZero() {
		fmt.Fprintf(out, "%s\n", dimStyle.Render(fmt.Sprintf("%s .. %s (%s)",
			first.Format(time.RFC3339), last.Format(time.RFC3339), last.Sub(first).Round(time.Millisecond))))
	}
	fmt.Fprint(out, metrics.FormatSummary(metrics.Summarize(records)))
	return nil
}
