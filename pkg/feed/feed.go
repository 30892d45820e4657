// Package feed delivers sampled points to the engine, either by dialing a
// websocket stream or by accepting pushed batches over HTTP.
package feed

import (
	"errors"

	"github.com/nicktill/tinytrim/pkg/point"
)

// Event types on the wire
const (
	EventPoint    = "point"
	EventBackends = "backends"
)

// ErrUnknownEvent is returned for events with an unrecognised type.
var ErrUnknownEvent = errors.New("unknown feed event type")

// Listener receives everything a source decodes.
type Listener interface {
	OnPoint(p *point.Point)
	OnBackendCountChanged(count int)
	OnConnectivityChanged(connected bool, message string)
}

// Event is one message of the stream.
//
//	{"type":"point","point":{"metric":"cpu","host":"web-1","accessed":false,...}}
//	{"type":"backends","count":4}
type Event struct {
	Type  string       `json:"type"`
	Point *point.Point `json:"point,omitempty"`
	Count int          `json:"count,omitempty"`
}

// dispatch hands a decoded event to the listener.
func dispatch(l Listener, ev *Event) error {
	switch ev.Type {
	case EventPoint:
		if ev.Point == nil {
			return point.ErrMetricEmpty
		}
		if err := point.Validate(ev.Point); err != nil {
			return err
		}
		l.OnPoint(ev.Point)
	case EventBackends:
		l.OnBackendCountChanged(ev.Count)
	default:
		return ErrUnknownEvent
	}
	return nil
}
