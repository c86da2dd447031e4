// Package subscription is the market data subscription engine: data items and their
// lifecycle, per-channel activation policy, the manager that owns them and the
// router that hands publisher messages to the right item.
//
// Everything in this package runs on a single engine goroutine. Publishers are the
// only components that own goroutines, and they hand their traffic over through
// Publisher.Messages, which the manager drains in Process.
package subscription
