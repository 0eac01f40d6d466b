package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/node"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/fjl/memsize/memsizeui"
	"github.com/hashicorp/go-bexpr"

	"github.com/shardnode/shardnode/consensus"
	"github.com/shardnode/shardnode/core"
	"github.com/shardnode/shardnode/core/types"
	"github.com/shardnode/shardnode/runtime"
)

// ShardNode implements the node.Lifecycle interface: a thin host that
// opens the chain database, constructs core.Chain, and registers itself on
// the stack. All the interesting behavior lives in core.Chain; this type
// only owns process lifecycle and the opportunistic GC loop that runs
// after each head advance.
type ShardNode struct {
	config *Config

	chainDb ethdb.Database
	chain   *core.Chain
	gc      *core.GC

	gcSignal chan struct{}
	quit     chan struct{}
	wg       sync.WaitGroup
}

// New opens the chain database under stack's data directory, builds
// genesis if the store is empty, and constructs the Chain orchestrator
// over the given runtime adapter and consensus engine.
//
// adapter and engine are supplied by the embedder rather than constructed
// here: the runtime (trie-executing) adapter and the Doomslug/consensus
// engine are external collaborators, and there is no concrete
// implementation in this repository to default to.
func New(stack *node.Node, config *Config, adapter runtime.Adapter, engine consensus.Engine) (*ShardNode, error) {
	chainDb, err := stack.OpenDatabaseWithFreezer(
		"chaindata",
		config.DatabaseCache,
		config.DatabaseHandles,
		"",
		"shardnode/db/chaindata/",
		false,
	)
	if err != nil {
		return nil, err
	}

	callbacks := &core.Callbacks{}
	s := &ShardNode{
		config:   config,
		chainDb:  chainDb,
		gcSignal: make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	callbacks.OnBlockAccepted = func(hash common.Hash, status types.BlockStatus, provenance types.Provenance) {
		log.Info("Block accepted", "hash", hash, "status", status, "provenance", provenance)
		if status.Kind != types.BlockStatusFork {
			s.requestGC()
		}
	}

	// Challenges are always surfaced, but operators can narrow what gets
	// logged with a bexpr expression over the challenge kind, e.g.
	// `kind == "ChunkState"`.
	var challengeFilter *bexpr.Evaluator
	if config.ChallengeFilter != "" {
		eval, err := bexpr.CreateEvaluator(config.ChallengeFilter)
		if err != nil {
			chainDb.Close()
			return nil, fmt.Errorf("invalid challenge filter %q: %w", config.ChallengeFilter, err)
		}
		challengeFilter = eval
	}
	callbacks.OnChallenge = func(ch *types.Challenge) {
		if challengeFilter != nil {
			match, err := challengeFilter.Evaluate(map[string]string{"kind": ch.Kind.String()})
			if err != nil || !match {
				return
			}
		}
		log.Warn("Challenge produced", "kind", ch.Kind)
	}

	chain, err := core.NewChain(context.Background(), chainDb, config.ChainConfig, engine, adapter, config.Genesis, callbacks, config.Workers)
	if err != nil {
		chainDb.Close()
		return nil, fmt.Errorf("opening chain: %w", err)
	}

	s.chain = chain
	s.gc = core.NewGC(chain, config.Archive)

	// Live memory introspection of the chain object graph, mounted the same
	// way geth's internal/debug mounts its memsize handler.
	memsize := new(memsizeui.Handler)
	memsize.Add("chain", chain)
	stack.RegisterHandler("memsize", "/memsize/", http.StripPrefix("/memsize", memsize))

	stack.RegisterLifecycle(s)
	return s, nil
}

// Chain exposes the underlying orchestrator to RPC API constructors and to
// cmd/shardnode's out-of-band plumbing (chunk requests, state sync, catch-up).
func (s *ShardNode) Chain() *core.Chain { return s.chain }

// Start implements node.Lifecycle.
func (s *ShardNode) Start() error {
	s.wg.Add(1)
	go s.gcLoop()
	return nil
}

// Stop implements node.Lifecycle.
func (s *ShardNode) Stop() error {
	close(s.quit)
	s.wg.Wait()
	s.chain.Close()
	return s.chainDb.Close()
}

// requestGC signals the GC loop without blocking; a full channel means a
// pass is already pending, which is fine since ClearData is idempotent
// per call and bounded by GCBlocksLimit.
func (s *ShardNode) requestGC() {
	select {
	case s.gcSignal <- struct{}{}:
	default:
	}
}

// gcLoop runs GC.ClearData opportunistically after each head advance, off
// the block-processing goroutine so ProcessBlock never blocks on garbage
// collection.
func (s *ShardNode) gcLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case <-s.gcSignal:
			if err := s.gc.ClearData(s.config.GCBlocksLimit); err != nil {
				log.Error("GC pass failed", "err", err)
			}
		}
	}
}

// APIs exposes a minimal read-only namespace: chain head/tip
// introspection.
func (s *ShardNode) APIs() []rpc.API {
	return []rpc.API{
		{
			Namespace: "chain",
			Service:   &ChainAPI{chain: s.chain},
		},
	}
}

// ChainAPI is the JSON-RPC surface over the read side of core.Chain.
type ChainAPI struct {
	chain *core.Chain
}

// Head returns the canonical body tip.
func (api *ChainAPI) Head() types.Tip { return api.chain.HeadTip() }

// HeaderHead returns the canonical header tip.
func (api *ChainAPI) HeaderHead() types.Tip { return api.chain.HeaderHeadTip() }

// FinalHead returns the last irreversibly final block.
func (api *ChainAPI) FinalHead() types.Tip { return api.chain.FinalHeadTip() }
