package notify

type multiSink struct {
	sinks []Sink
}

// NewMultiSink fans every event out to all given sinks.
func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) BundleReceived(bundle string) {
	for _, s := range m.sinks {
		s.BundleReceived(bundle)
	}
}

func (m *multiSink) BundleExtracted(bundle string) {
	for _, s := range m.sinks {
		s.BundleExtracted(bundle)
	}
}

func (m *multiSink) BundleFinished(bundle string, errIfAny error) {
	for _, s := range m.sinks {
		s.BundleFinished(bundle, errIfAny)
	}
}
