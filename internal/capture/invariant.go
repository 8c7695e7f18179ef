package capture

import (
	"fmt"

	"github.com/shastasprojector/projector/internal/logger"
)

// invariant panics in projectordebug builds and degrades to ErrUnavailable
// otherwise.
func invariant(ok bool, format string, args ...any) error {
	if ok {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if strictInvariants {
		panic("capture invariant violated: " + msg)
	}
	logger.WithComponent("capture").Error().Str("invariant", msg).Msg("Invariant violated")
	return fmt.Errorf("%w: %s", ErrUnavailable, msg)
}
