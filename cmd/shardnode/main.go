// shardnode is the command line entrypoint that hosts core.Chain inside a
// go-ethereum node.Node. Structured after cmd/geth's command-table
// convention: a NewApp with a default Action plus named subcommands.
package main

import (
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/shardnode/shardnode/cmd/utils"
	"github.com/shardnode/shardnode/core"
	"github.com/shardnode/shardnode/internal/flags"
	"github.com/shardnode/shardnode/internal/version"
	"github.com/shardnode/shardnode/params"
	"github.com/shardnode/shardnode/service"
)

const clientIdentifier = "shardnode" // Client identifier to advertise over the network

var app = flags.NewApp("the shardnode block-ingestion node command line interface")

func init() {
	app.Action = run
	app.Before = func(ctx *cli.Context) error { return setupLogging(ctx) }
	app.Copyright = "Copyright 2026 The shardnode Authors"
	app.Flags = append(app.Flags,
		configFileFlag,
		utils.DataDirFlag,
		utils.DBEngineFlag,
		utils.DatabaseCacheFlag,
		utils.DatabaseHandlesFlag,
		utils.NetworkFlag,
		utils.WorkersFlag,
		utils.GCBlocksLimitFlag,
		utils.ArchiveFlag,
		utils.ChallengeFilterFlag,
		utils.MinGasPriceFlag,
		utils.MaxGasPriceFlag,
		utils.LogFileFlag,
	)
	app.Commands = []*cli.Command{
		versionCommand,
		dumpConfigCommand,
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run is the default action: it builds the node + service, starts both,
// and blocks until the process is told to stop (node.Node.Wait), the way
// geth's own default Action does for the full Ethereum stack.
func run(ctx *cli.Context) error {
	stack, cfg := makeConfigNode(ctx)
	defer stack.Close()

	// One shardnode per datadir: hold a lock file for the process lifetime,
	// over and above the node package's own instance locking, so a second
	// invocation fails fast with a clear message instead of a database
	// contention error mid-startup.
	if dir := cfg.Node.DataDir; dir != "" {
		lock := flock.New(filepath.Join(dir, "shardnode.lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring datadir lock: %w", err)
		}
		if !locked {
			return fmt.Errorf("datadir %s is in use by another shardnode instance", dir)
		}
		defer lock.Unlock()
	}

	adapter, err := newRuntimeAdapter(ctx)
	if err != nil {
		return err
	}
	engine, err := newConsensusEngine(ctx)
	if err != nil {
		return err
	}

	if cfg.Shardnode.Genesis == nil {
		cfg.Shardnode.Genesis = defaultGenesis()
	}

	if _, err := service.New(stack, &cfg.Shardnode, adapter, engine); err != nil {
		return fmt.Errorf("creating shardnode service: %w", err)
	}

	if err := stack.Start(); err != nil {
		return fmt.Errorf("starting node: %w", err)
	}
	log.Info("shardnode started", "version", params.VersionWithMeta())
	stack.Wait()
	return nil
}

// defaultGenesis gives standalone/sandbox runs a deterministic genesis
// when no --config supplies one.
func defaultGenesis() *core.Genesis {
	return &core.Genesis{
		EpochID:     common.Hash{},
		NextEpochID: common.HexToHash("0x1"),
		GasPrice:    big.NewInt(1e8),
		Timestamp:   0,
	}
}

var versionCommand = &cli.Command{
	Action:    printVersion,
	Name:      "version",
	Usage:     "Print version numbers",
	ArgsUsage: " ",
	Description: `
The output of this command is supposed to be machine-readable.`,
}

func printVersion(ctx *cli.Context) error {
	fmt.Println(strings.ToUpper(clientIdentifier))
	fmt.Println("Version:", params.VersionWithMeta())
	if git, ok := version.VCS(); ok {
		fmt.Println("Git Commit:", git.Commit)
		fmt.Println("Git Commit Date:", git.Date)
		fmt.Println("Git Dirty:", git.Dirty)
	}
	fmt.Println("Architecture:", runtime.GOARCH)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Operating System:", runtime.GOOS)
	return nil
}

var dumpConfigCommand = &cli.Command{
	Action:    dumpConfig,
	Name:      "dumpconfig",
	Usage:     "Show configuration values",
	ArgsUsage: "",
	Description: `The dumpconfig command shows configuration values.`,
}

func dumpConfig(ctx *cli.Context) error {
	_, cfg := makeConfigNode(ctx)
	comment := ""

	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}
	io.WriteString(os.Stdout, comment)
	os.Stdout.Write(out)
	return nil
}
