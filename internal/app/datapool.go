package app

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/tonylturner/osydiag/internal/dealer"
	"github.com/tonylturner/osydiag/internal/errors"
)

type DataPoolOptions struct {
	Session SessionOptions
	// DataPools names datapools by name or index. Empty means all.
	DataPools []string
	// List is the list index for notifications.
	List uint16
}

func (s *session) dataPoolNames(names []string) []string {
	if len(names) > 0 {
		return names
	}
	all := make([]string, len(s.cfg.Node.DataPools))
	for i, dp := range s.cfg.Node.DataPools {
		all[i] = dp.Name
	}
	return all
}

// RunDataPoolInfo prints the version each datapool reports and whether it
// satisfies the configured constraint.
func RunDataPoolInfo(ctx context.Context, opts DataPoolOptions) error {
	s, err := openSession(ctx, opts.Session)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Fprintln(s.out, headerStyle.Render(fmt.Sprintf("Node %s", s.cfg.Node.Name)))
	mismatches := 0
	for _, name := range s.dataPoolNames(opts.DataPools) {
		info, err := s.dealer.CheckVersion(ctx, name)
		switch {
		case err == nil:
			fmt.Fprintf(s.out, "  [%d] %-16s %s %s\n", info.Index, info.Name, info.Version, status(true, "ok", ""))
		case stderrors.Is(err, dealer.ErrVersionMismatch):
			mismatches++
			fmt.Fprintf(s.out, "  [%d] %-16s %s %s\n", info.Index, info.Name, info.Version, status(false, "", err.Error()))
		default:
			return errors.WrapServiceError(err, "read metadata of "+name)
		}
	}
	if mismatches > 0 {
		return fmt.Errorf("%d datapool(s) %w", mismatches, dealer.ErrVersionMismatch)
	}
	return nil
}

// RunDataPoolVerify checks each datapool's checksum against the model.
func RunDataPoolVerify(ctx context.Context, opts DataPoolOptions) error {
	s, err := openSession(ctx, opts.Session)
	if err != nil {
		return err
	}
	defer s.Close()

	failed := 0
	for _, name := range s.dataPoolNames(opts.DataPools) {
		match, err := s.dealer.Verify(ctx, name)
		if err != nil {
			return errors.WrapServiceError(err, "verify "+name)
		}
		if !match {
			failed++
		}
		fmt.Fprintf(s.out, "%-16s %s\n", name, status(match, "checksum match", "checksum MISMATCH"))
	}
	if failed > 0 {
		return fmt.Errorf("%d datapool(s) differ from the configuration", failed)
	}
	return nil
}

// RunDataPoolNotify tells the node that NVM data of a list changed.
func RunDataPoolNotify(ctx context.Context, opts DataPoolOptions) error {
	if len(opts.DataPools) != 1 {
		return fmt.Errorf("exactly one datapool required")
	}
	s, err := openSession(ctx, opts.Session)
	if err != nil {
		return err
	}
	defer s.Close()

	ack, err := s.dealer.NotifyNvmChanged(ctx, opts.DataPools[0], opts.List)
	if err != nil {
		return errors.WrapServiceError(err, "notify "+opts.DataPools[0])
	}
	fmt.Fprintf(s.out, "%s list %d: %s\n", opts.DataPools[0], opts.List, status(ack, "acknowledged", "not acknowledged"))
	if !ack {
		return dealer.ErrNotAcknowledged
	}
	return nil
}
