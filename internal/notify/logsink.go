package notify

import "log/slog"

type logSink struct {
	log *slog.Logger
}

// NewLogSink reports watcher events through the process log.
func NewLogSink(log *slog.Logger) Sink {
	return &logSink{log: log}
}

func (s *logSink) BundleReceived(bundle string) {
	s.log.Info("bundle received", slog.String("bundle", bundle))
}

func (s *logSink) BundleExtracted(bundle string) {
	s.log.Info("bundle extracted", slog.String("bundle", bundle))
}

func (s *logSink) BundleFinished(bundle string, errIfAny error) {
	if errIfAny != nil {
		s.log.Error("bundle processing failed",
			slog.String("bundle", bundle), slog.Any("error", errIfAny))
		return
	}
	s.log.Info("bundle finished", slog.String("bundle", bundle))
}
