package core

import (
	"github.com/ethereum/go-ethereum/event"

	"github.com/shardnode/shardnode/core/types"
)

// Event subscriptions over the chain, the same event.Feed surface
// go-ethereum's BlockChain exposes. Callbacks (core/callbacks.go) remain
// the per-call notification path; feeds serve embedders that want fan-out
// without owning the ProcessBlock call site. The service layer's GC trigger
// uses Callbacks.OnBlockAccepted, not a feed.

// ChainHeadEvent fires after a committed block advanced head, carrying the
// Next/Reorg status the head moved with.
type ChainHeadEvent struct {
	Block  *types.Block
	Status types.BlockStatus
}

// ChainSideEvent fires for a committed block that joined a non-canonical
// fork without moving head.
type ChainSideEvent struct {
	Block *types.Block
}

// ChallengeEvent fires whenever byzantine evidence is produced, mirroring
// the OnChallenge callback for subscribers.
type ChallengeEvent struct {
	Challenge *types.Challenge
}

// SubscribeChainHeadEvent registers a subscription for head advances.
func (c *Chain) SubscribeChainHeadEvent(ch chan<- ChainHeadEvent) event.Subscription {
	return c.scope.Track(c.chainHeadFeed.Subscribe(ch))
}

// SubscribeChainSideEvent registers a subscription for fork-side blocks.
func (c *Chain) SubscribeChainSideEvent(ch chan<- ChainSideEvent) event.Subscription {
	return c.scope.Track(c.chainSideFeed.Subscribe(ch))
}

// SubscribeChallengeEvent registers a subscription for challenge evidence.
func (c *Chain) SubscribeChallengeEvent(ch chan<- ChallengeEvent) event.Subscription {
	return c.scope.Track(c.challengeFeed.Subscribe(ch))
}

// emitChallenge fans challenge evidence out to both the caller's OnChallenge
// sink and any feed subscribers.
func (c *Chain) emitChallenge(challenge *types.Challenge) {
	c.callbacks.challenge(challenge)
	c.challengeFeed.Send(ChallengeEvent{Challenge: challenge})
}

// Close unsubscribes every tracked subscription; the chain itself holds no
// goroutines to stop.
func (c *Chain) Close() {
	c.scope.Close()
}
