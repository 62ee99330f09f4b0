package orchestrator

import (
	"canvas-studio/tools/logger"
)

// LogObserver reports transitions in the studio's log style.
func LogObserver(log *logger.Logger) Observer {
	log = log.WithPrefix("session")
	return ObserverFunc(func(e Event) {
		l := log.With("session", shortID(e.SessionID), "iteration", e.Iteration)
		switch e.To {
		case StateGenerating:
			switch {
			case e.From == StateGenerating:
				l.Warn("Retrying generation (%s): %v", e.Reason, e.Err)
			case e.From == StateCorrecting:
				l.Info("▶ Regenerating after review: %s", e.Reason)
			default:
				l.Info("▶ Generating")
			}
		case StateRendering:
			if e.Program != nil {
				l.Info("Program with %d ops", len(e.Program.Ops))
			}
		case StateCritiquing:
			if e.From == StateCritiquing {
				l.Warn("Retrying critique (%s): %v", e.Reason, e.Err)
			} else if e.Snapshot != nil {
				l.Debug("Snapshot %dx%d", e.Snapshot.Bounds().Dx(), e.Snapshot.Bounds().Dy())
			}
		case StateCorrecting:
			l.Info("✗ Rejected: %s", e.Reason)
		case StateAccepted:
			l.Info("✓ Accepted after %d iteration(s)", e.Iteration)
		case StateExhausted:
			l.Warn("✗ Rejected: %s (iteration budget exhausted)", e.Reason)
		case StateFailed:
			l.Error("✗ Failed (%s): %v", e.Reason, e.Err)
		}
		if e.Usage.Total() > 0 {
			l.Tokens(e.Usage.InputTokens, e.Usage.OutputTokens)
		}
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
