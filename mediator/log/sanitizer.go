package log

import (
	"context"
	"fmt"
)

// SafeError logs err at error level. When production is true only the error
// type is recorded, keeping raw error text (which may embed user input or
// credentials) out of production log streams.
func SafeError(logger Logger, ctx context.Context, msg string, err error, production bool) {
	if logger == nil {
		return
	}

	if err == nil {
		return
	}

	if !logger.Enabled(LevelError) {
		return
	}

	if production {
		logger.Log(ctx, LevelError, msg, String("error_type", fmt.Sprintf("%T", err)))
		return
	}

	logger.Log(ctx, LevelError, msg, Err(err))
}
