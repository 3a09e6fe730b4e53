package notify

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

type natsSink struct {
	nc      *nats.Conn
	subject string
}

// NewNatsSink publishes watcher events as JSON on the given subject.
func NewNatsSink(nc *nats.Conn, subject string) Sink {
	return &natsSink{nc: nc, subject: subject}
}

func (s *natsSink) BundleReceived(bundle string) {
	s.send(Event{MsgType: MsgTypeBundleReceived, Bundle: bundle, Time: time.Now()})
}

func (s *natsSink) BundleExtracted(bundle string) {
	s.send(Event{MsgType: MsgTypeBundleExtracted, Bundle: bundle, Time: time.Now()})
}

func (s *natsSink) BundleFinished(bundle string, errIfAny error) {
	ev := Event{MsgType: MsgTypeBundleFinished, Bundle: bundle, Time: time.Now()}
	if errIfAny != nil {
		msg := errIfAny.Error()
		ev.Error = &msg
	}
	s.send(ev)
}

// Event delivery is best-effort; losing a status message never fails the
// bundle being processed.
func (s *natsSink) send(ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Printf("failed to marshal event: %v", err)
		return
	}
	if err := s.nc.Publish(s.subject, b); err != nil {
		log.Printf("failed to publish event to NATS: %v", err)
	}
}
