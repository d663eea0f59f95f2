package market

import "time"

// Snapshot represents one order book delivery from the feed.
// Each delivery fully replaces the sides it carries.
type Snapshot struct {
	MarketID string
	Buys     []Level
	Sells    []Level
	Sequence uint64
	Ts       time.Time
}
