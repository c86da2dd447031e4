// Package catalog binds channels to their concrete data items and wire decoders.
package catalog

import (
	"github.com/yanun0323/errors"

	"marketsub/internal/account"
	"marketsub/internal/holding"
	"marketsub/internal/model/enum"
	"marketsub/internal/publisher"
	"marketsub/internal/subscription"
	"marketsub/pkg/exception"
)

// Factory creates the data item of every supported channel.
type Factory struct{}

func (Factory) CreateDataItem(base *subscription.Item) (subscription.DataItem, error) {
	switch base.Channel() {
	case enum.ChannelBrokerageAccounts:
		return account.New(base), nil
	case enum.ChannelHoldings:
		return holding.New(base), nil
	case enum.ChannelConnection, enum.ChannelFeeds, enum.ChannelMarkets, enum.ChannelAllOrders:
		return subscription.NewPublisherItem(base, nil), nil
	default:
		return nil, errors.Wrap(exception.ErrUnsupportedChannel, "create data item").With("channel", base.Channel().String())
	}
}

// Decoders returns the payload decoders of every data message type.
func Decoders() publisher.Decoders {
	return publisher.Decoders{
		enum.MessageTypeAccounts: account.DecodeChanges,
		enum.MessageTypeHoldings: holding.DecodeChanges,
	}
}

var _ subscription.DataItemFactory = Factory{}
