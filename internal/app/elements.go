package app

import (
	"context"
	"fmt"

	"github.com/tonylturner/osydiag/internal/dealer"
	"github.com/tonylturner/osydiag/internal/errors"
)

type ReadOptions struct {
	Session SessionOptions
	Paths   []string
	// Nvm reads the element from the node's NVM instead of RAM.
	Nvm bool
}

// RunRead reads each element and prints "path = value unit".
func RunRead(ctx context.Context, opts ReadOptions) error {
	if len(opts.Paths) == 0 {
		return fmt.Errorf("no element given")
	}
	s, err := openSession(ctx, opts.Session)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, path := range opts.Paths {
		ref, err := s.dealer.Resolve(path)
		if err != nil {
			return errors.WrapServiceError(err, "resolve "+path)
		}
		var v dealer.Value
		if opts.Nvm {
			v, err = s.dealer.ReadNvm(ctx, path)
		} else {
			v, err = s.dealer.ReadRef(ctx, ref)
		}
		if err != nil {
			return errors.WrapServiceError(err, "read "+ref.Path())
		}
		fmt.Fprintf(s.out, "%s = %s%s\n", pathStyle.Render(ref.Path()), v, dimStyle.Render(unit(ref.Element.Unit)))
	}
	return nil
}

type WriteOptions struct {
	Session SessionOptions
	Path    string
	Values  []float64
	Nvm     bool
}

// RunWrite writes values to one element. With Nvm set the write goes through
// an NVM transaction followed by a change notification.
func RunWrite(ctx context.Context, opts WriteOptions) error {
	if len(opts.Values) == 0 {
		return fmt.Errorf("no values given")
	}
	s, err := openSession(ctx, opts.Session)
	if err != nil {
		return err
	}
	defer s.Close()

	op := "write"
	if opts.Nvm {
		op = "NVM write"
		err = s.dealer.WriteNvm(ctx, opts.Path, opts.Values...)
	} else {
		err = s.dealer.Write(ctx, opts.Path, opts.Values...)
	}
	if err != nil {
		return errors.WrapServiceError(err, op+" "+opts.Path)
	}
	fmt.Fprintf(s.out, "%s %s\n", status(true, "OK", ""), pathStyle.Render(opts.Path))
	return nil
}
