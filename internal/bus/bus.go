// Package bus implements the outward publish/subscribe surface: an
// OutwardBus interface composing an MQTT publisher with an in-process
// broadcaster feeding the websocket view channel interface.
package bus

import (
	"github.com/e7canasta/ttsam-go/internal/types"
)

// OutwardBus fans a finished Report out to every outward leg. Publish
// errors are fire-and-forget per spec.md section 4.4; implementations must
// not block the dispatcher.
type OutwardBus interface {
	Publish(report types.Report)
}

// ViewChannel is the websocket UI layer's consumption contract. Spec.md
// section 1 treats the HTTP/WebSocket surface itself as an external
// collaborator; this interface is the one seam the dispatcher pushes
// through.
type ViewChannel interface {
	Push(report types.Report)
}

// Multi composes any number of OutwardBus legs into one, publishing to all
// of them unconditionally.
type Multi struct {
	legs []OutwardBus
}

// NewMulti builds a composed bus from the given legs, in publish order.
func NewMulti(legs ...OutwardBus) *Multi {
	return &Multi{legs: legs}
}

// Publish fans out to every leg. A panicking or slow leg is not this type's
// concern; each leg implementation is responsible for its own
// fire-and-forget discipline.
func (m *Multi) Publish(report types.Report) {
	for _, leg := range m.legs {
		leg.Publish(report)
	}
}
