// Package notify reports queue watcher progress. The watcher itself only
// logs; deployments that want to observe bundle processing centrally can
// attach the NATS sink.
package notify

import "time"

// Event message types published by the watcher.
const (
	MsgTypeBundleReceived  = "bundle_received"
	MsgTypeBundleExtracted = "bundle_extracted"
	MsgTypeBundleFinished  = "bundle_finished"
)

type Event struct {
	MsgType string    `json:"msg_type"`
	Bundle  string    `json:"bundle"`
	Time    time.Time `json:"time"`

	// Error is set on bundle_finished when the commander failed.
	Error *string `json:"error,omitempty"`
}

// Sink receives watcher progress events.
type Sink interface {
	BundleReceived(bundle string)
	BundleExtracted(bundle string)
	BundleFinished(bundle string, errIfAny error)
}
