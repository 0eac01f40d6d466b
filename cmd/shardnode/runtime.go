package main

import (
	"errors"

	"github.com/urfave/cli/v2"

	"github.com/shardnode/shardnode/consensus"
	"github.com/shardnode/shardnode/runtime"
)

// errNoRuntimeAdapter/errNoConsensusEngine are returned by the default
// hooks below. The runtime (trie-executing) adapter and the Doomslug
// consensus engine are external collaborators by design: this repository implements the block-ingestion core that
// consumes them, not the collaborators themselves. A deployment links in
// its own implementations by overriding newRuntimeAdapter/newConsensusEngine
// (e.g. from a side package's init(), or a small main.go fork) before
// calling app.Run.
var (
	errNoRuntimeAdapter  = errors.New("no runtime.Adapter wired into this binary: supply one via cmd/shardnode's newRuntimeAdapter hook")
	errNoConsensusEngine = errors.New("no consensus.Engine wired into this binary: supply one via cmd/shardnode's newConsensusEngine hook")
)

// newRuntimeAdapter constructs the runtime.Adapter the chain core will
// apply chunks through. Overridable for embedding deployments.
var newRuntimeAdapter = func(ctx *cli.Context) (runtime.Adapter, error) {
	return nil, errNoRuntimeAdapter
}

// newConsensusEngine constructs the consensus.Engine the chain core
// verifies headers/approvals against. Overridable for embedding
// deployments.
var newConsensusEngine = func(ctx *cli.Context) (consensus.Engine, error) {
	return nil, errNoConsensusEngine
}
