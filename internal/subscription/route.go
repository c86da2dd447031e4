package subscription

import (
	"marketsub/internal/model"
	"marketsub/internal/obs"
)

// route delivers msg to its item. Messages for items that are gone or for a
// superseded request are dropped without a diagnostic.
func (m *Manager) route(msg model.DataMessage) {
	item, ok := m.items[msg.DataItemID]
	if !ok {
		m.metrics.Inc(obs.CounterDroppedUnknownItem)
		return
	}

	base := item.Base()
	if !base.started {
		m.metrics.Inc(obs.CounterDroppedStale)
		return
	}
	if msg.RequestNr.IsBroadcast() {
		m.metrics.Inc(obs.CounterBroadcast)
	} else if msg.RequestNr != base.activeRequestNr {
		m.metrics.Inc(obs.CounterDroppedStale)
		return
	}

	base.processMessage(msg)
	m.metrics.Inc(obs.CounterRouted)

	if base.destroyed || !base.deactivationDelayed || base.online {
		return
	}
	// nobody is waiting for this item and its data went bad, release it now
	m.activation[base.Channel()].DeactivateAvailable(base)
	m.metrics.Inc(obs.CounterEarlyRelease)
}

// Route delivers a message outside Process. It is used by callers that own their
// own message source.
func (m *Manager) Route(msg model.DataMessage) {
	m.route(msg)
}
