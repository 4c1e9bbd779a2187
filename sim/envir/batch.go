package envir

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// RunBatch executes runs in order, each with a fresh Controller built from
// base with RunNumber replaced and a new run id. It stops early when ctx is
// cancelled. Failed runs do not stop the batch; their errors are joined.
func RunBatch(ctx context.Context, base Params, runs []int) ([]*RunResult, error) {
	var (
		out  []*RunResult
		errs []error
	)
	for _, n := range runs {
		if ctx.Err() != nil {
			errs = append(errs, fmt.Errorf("%w: batch stopped before run #%d", ErrCancelled, n))
			break
		}
		p := base
		p.RunNumber = n
		p.RunID = ""
		res, err := New(p).Run(ctx)
		if res != nil {
			out = append(out, res)
		}
		if err != nil {
			logrus.Warnf("run #%d: %v", n, err)
			errs = append(errs, fmt.Errorf("run #%d: %w", n, err))
			if errors.Is(err, ErrCancelled) {
				break
			}
		}
	}
	return out, errors.Join(errs...)
}
