package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketsub/internal/model"
	"marketsub/internal/model/enum"
)

func TestPublisherItemQueryUsesRequest(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)
	def := model.NewDefinition(enum.ChannelHoldings, testKey("q"), false, model.AsQuery())

	item := h.subscribe(t, def)
	h.tick()
	require.Len(t, h.pub.requested, 1)
	assert.Empty(t, h.pub.subscribed)
	assert.Equal(t, item.ID(), h.pub.requested[0].ItemID)

	h.manager.Unsubscribe(item)
	assert.Empty(t, h.pub.unsubscribed)
}

func TestPublisherItemOfflineUntilOnline(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)
	h.pub.offline = true

	item := h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	h.tick()
	assert.Equal(t, PublisherStateOffline, item.PublisherState())
	assert.Equal(t, enum.BadnessReasonOffline, item.Badness().Reason)

	h.pub.offline = false
	h.pub.push(model.NewBroadcast(item.ID(), enum.MessageTypeOnline))
	h.tick()

	assert.Equal(t, PublisherStateSubscribing, item.PublisherState())
	assert.EqualValues(t, 2, item.ActiveRequestNr())
	assert.Len(t, h.pub.subscribed, 2)
	assert.Empty(t, h.pub.unsubscribed)
}

func TestPublisherItemError(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)
	item := h.subscribe(t, refDef(enum.ChannelHoldings, "acc1"))
	h.tick()

	h.pub.push(model.DataMessage{
		DataItemID: item.ID(),
		RequestNr:  item.ActiveRequestNr(),
		TypeID:     enum.MessageTypeError,
		Payload:    model.ErrorPayload{Code: "E401", Text: "denied"},
	})
	h.tick()

	assert.Equal(t, PublisherStateError, item.PublisherState())
	assert.Equal(t, "denied", item.Badness().Extra)
	assert.Equal(t, enum.CorrectnessError, item.Badness().Correctness())
	assert.Equal(t, "E401", item.LastError().Code)
	assert.False(t, item.Online())
}

func TestPublisherItemUnavailablePublisher(t *testing.T) {
	h := newHarness(t, ActivationConfig{}, nil)
	def := model.NewDefinition(enum.ChannelHoldings, testKey("acc1"), true, model.WithPublisherType(enum.PublisherTypeSnapshot))

	item := h.subscribe(t, def)
	h.tick()

	assert.Equal(t, enum.BadnessReasonPublisherUnavailable, item.Badness().Reason)
	assert.Equal(t, []string{CodePublisherUnavailable}, h.sink.Codes())

	h.manager.Unsubscribe(item)
	assert.True(t, item.Destroyed())
}
