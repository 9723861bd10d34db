package poollog

import (
	"context"
	"log/slog"
)

// SlogAdapter writes fleet events to an slog.Logger.
// Useful for development when you want to see fleet events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given
// slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("category", event.Category.String()),
	}
	if event.Serial != "" {
		attrs = append(attrs, slog.String("serial", event.Serial))
	}
	if event.LeaseID != "" {
		attrs = append(attrs, slog.String("lease_id", event.LeaseID))
	}

	switch {
	case event.Allocation != nil:
		attrs = append(attrs, slog.String("action", event.Allocation.Action.String()))
		if event.Allocation.FreeState != "" {
			attrs = append(attrs, slog.String("free_state", event.Allocation.FreeState))
		}
		if event.Allocation.Forced {
			attrs = append(attrs, slog.Bool("forced", true))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Source != "" {
			attrs = append(attrs, slog.String("source", event.StateChange.Source))
		}
	case event.Command != nil:
		attrs = append(attrs,
			slog.Any("args", event.Command.Args),
			slog.String("status", event.Command.Status),
			slog.Int("exit_code", event.Command.ExitCode),
		)
		if event.Command.Duration != 0 {
			attrs = append(attrs, slog.Duration("duration", event.Command.Duration))
		}
	case event.Fastboot != nil:
		attrs = append(attrs,
			slog.Any("serials", event.Fastboot.Serials),
			slog.Int("reclassified", event.Fastboot.Reclassified),
		)
	case event.Error != nil:
		attrs = append(attrs, slog.String("error_msg", event.Error.Message))
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "fleet", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
