package enum

import "strings"

// Channel is a category of subscribable data with its own activation policy.
type Channel uint8

const (
	_channel_beg Channel = iota
	ChannelConnection
	ChannelFeeds
	ChannelMarkets
	ChannelBrokerageAccounts
	ChannelAllOrders
	ChannelHoldings
	ChannelBalances
	ChannelOrders
	_channel_end
)

var _channelNames = [...]string{
	ChannelConnection:        "connection",
	ChannelFeeds:             "feeds",
	ChannelMarkets:           "markets",
	ChannelBrokerageAccounts: "brokerage_accounts",
	ChannelAllOrders:         "all_orders",
	ChannelHoldings:          "holdings",
	ChannelBalances:          "balances",
	ChannelOrders:            "orders",
}

// _channelDependencies lists the channels a channel's data items rely on directly.
var _channelDependencies = [...][]Channel{
	ChannelFeeds:             {ChannelConnection},
	ChannelMarkets:           {ChannelFeeds},
	ChannelBrokerageAccounts: {ChannelFeeds},
	ChannelAllOrders:         {ChannelFeeds},
	ChannelHoldings:          {ChannelBrokerageAccounts},
	ChannelBalances:          {ChannelBrokerageAccounts},
	ChannelOrders:            {ChannelBrokerageAccounts},
}

func (c Channel) IsAvailable() bool {
	return c > _channel_beg && c < _channel_end
}

func (c Channel) String() string {
	if !c.IsAvailable() {
		return "unknown"
	}
	return _channelNames[c]
}

// ParseChannel resolves a channel from its wire/config name.
func ParseChannel(name string) (Channel, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c := _channel_beg + 1; c < _channel_end; c++ {
		if _channelNames[c] == name {
			return c, true
		}
	}
	return 0, false
}

// Channels returns every available channel in declaration order.
func Channels() []Channel {
	result := make([]Channel, 0, int(_channel_end)-1)
	for c := _channel_beg + 1; c < _channel_end; c++ {
		result = append(result, c)
	}
	return result
}

// Dependencies returns the direct dependency channels.
func (c Channel) Dependencies() []Channel {
	if !c.IsAvailable() || int(c) >= len(_channelDependencies) {
		return nil
	}
	return _channelDependencies[c]
}

// DependencyDepth is the length of the longest dependency chain below c.
// Connection has depth 0.
func (c Channel) DependencyDepth() int {
	depth := 0
	for _, dep := range c.Dependencies() {
		if d := dep.DependencyDepth() + 1; d > depth {
			depth = d
		}
	}
	return depth
}
