// Package utils contains internal helper functions for shardnode commands:
// flag definitions shared across subcommands, plus SetNodeConfig and
// SetServiceConfig functions that translate a cli.Context into the structs
// service.Config and node.Config expect.
package utils

import (
	"fmt"
	"math/big"

	gethutils "github.com/ethereum/go-ethereum/cmd/utils"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/node"
	"github.com/urfave/cli/v2"

	"github.com/shardnode/shardnode/internal/flags"
	"github.com/shardnode/shardnode/params"
	"github.com/shardnode/shardnode/service"
)

// These are all the command line flags shardnode supports, declared once
// here so their names and help texts stay identical across every
// subcommand that uses them.
var (
	DataDirFlag = &flags.DirectoryFlag{
		Name:     "datadir",
		Usage:    "Data directory for the databases",
		Category: flags.EthCategory,
	}
	DBEngineFlag = &cli.StringFlag{
		Name:     "db.engine",
		Usage:    "Backing database implementation to use ('pebble' or 'leveldb')",
		Value:    "pebble",
		Category: flags.EthCategory,
	}
	NetworkFlag = &cli.StringFlag{
		Name:     "network",
		Usage:    "Network preset to apply ('mainnet' or 'sandbox')",
		Value:    "mainnet",
		Category: flags.EthCategory,
	}
	DatabaseCacheFlag = &cli.IntFlag{
		Name:     "cache",
		Usage:    "Megabytes of memory allocated to internal database caching",
		Value:    service.DefaultConfig.DatabaseCache,
		Category: flags.EthCategory,
	}
	DatabaseHandlesFlag = &cli.IntFlag{
		Name:     "db.handles",
		Usage:    "Number of file descriptors allowed to be used by the database",
		Value:    service.DefaultConfig.DatabaseHandles,
		Category: flags.EthCategory,
	}
	WorkersFlag = &cli.IntFlag{
		Name:     "workers",
		Usage:    "Number of chunk-applier workers (0 = GOMAXPROCS)",
		Value:    service.DefaultConfig.Workers,
		Category: flags.EthCategory,
	}
	GCBlocksLimitFlag = &cli.IntFlag{
		Name:     "gc.blockslimit",
		Usage:    "Maximum number of blocks cleared per opportunistic GC pass",
		Value:    service.DefaultConfig.GCBlocksLimit,
		Category: flags.EthCategory,
	}
	ArchiveFlag = &cli.BoolFlag{
		Name:     "gc.archive",
		Usage:    "Disable canonical-chain pruning in GC, keeping only redundant chunk-data clearing",
		Category: flags.EthCategory,
	}
	ChallengeFilterFlag = &cli.StringFlag{
		Name:     "challenge.filter",
		Usage:    "go-bexpr expression over challenge fields restricting which produced challenges get logged",
		Category: flags.EthCategory,
	}
	MinGasPriceFlag = &cli.Uint64Flag{
		Name:     "gasprice.min",
		Usage:    "Minimum gas price a block header may carry",
		Category: flags.EthCategory,
	}
	MaxGasPriceFlag = &cli.Uint64Flag{
		Name:     "gasprice.max",
		Usage:    "Maximum gas price a block header may carry",
		Category: flags.EthCategory,
	}
	LogFileFlag = &cli.StringFlag{
		Name:     "log.file",
		Usage:    "Write log records to a rotating file at this path, in addition to stderr",
		Category: flags.LoggingCategory,
	}
)

// SetDataDir applies the datadir flag to cfg. There is no network-name
// subdirectory defaulting: shardnode has no bundled testnets to branch on.
func SetDataDir(ctx *cli.Context, cfg *node.Config) {
	if ctx.IsSet(DataDirFlag.Name) {
		cfg.DataDir = ctx.String(DataDirFlag.Name)
	}
}

// SetNodeConfig applies node-related command line flags to cfg.
func SetNodeConfig(ctx *cli.Context, cfg *node.Config) {
	SetDataDir(ctx, cfg)
	if ctx.IsSet(DBEngineFlag.Name) {
		dbEngine := ctx.String(DBEngineFlag.Name)
		if dbEngine != "leveldb" && dbEngine != "pebble" {
			gethutils.Fatalf("Invalid choice for db.engine '%s', allowed 'leveldb' or 'pebble'", dbEngine)
		}
		log.Info(fmt.Sprintf("Using %s as db engine", dbEngine))
		cfg.DBEngine = dbEngine
	}
}

// SetServiceConfig applies chain-core flags on top of cfg; flags override
// whatever loadBaseConfig already populated from a TOML file.
func SetServiceConfig(ctx *cli.Context, cfg *service.Config) {
	if ctx.IsSet(NetworkFlag.Name) {
		switch ctx.String(NetworkFlag.Name) {
		case "mainnet":
			cfg.ChainConfig = params.MainnetChainConfig
		case "sandbox":
			cfg.ChainConfig = params.SandboxChainConfig
		default:
			gethutils.Fatalf("Invalid choice for network '%s', allowed 'mainnet' or 'sandbox'", ctx.String(NetworkFlag.Name))
		}
	}
	if ctx.IsSet(DatabaseCacheFlag.Name) {
		cfg.DatabaseCache = ctx.Int(DatabaseCacheFlag.Name)
	}
	if ctx.IsSet(DatabaseHandlesFlag.Name) {
		cfg.DatabaseHandles = ctx.Int(DatabaseHandlesFlag.Name)
	}
	if ctx.IsSet(WorkersFlag.Name) {
		cfg.Workers = ctx.Int(WorkersFlag.Name)
	}
	if ctx.IsSet(GCBlocksLimitFlag.Name) {
		cfg.GCBlocksLimit = ctx.Int(GCBlocksLimitFlag.Name)
	}
	if ctx.IsSet(ArchiveFlag.Name) {
		cfg.Archive = ctx.Bool(ArchiveFlag.Name)
	}
	if ctx.IsSet(ChallengeFilterFlag.Name) {
		cfg.ChallengeFilter = ctx.String(ChallengeFilterFlag.Name)
	}
	if ctx.IsSet(MinGasPriceFlag.Name) || ctx.IsSet(MaxGasPriceFlag.Name) {
		chainCfg := *cfg.ChainConfig
		if ctx.IsSet(MinGasPriceFlag.Name) {
			chainCfg.MinGasPrice = new(big.Int).SetUint64(ctx.Uint64(MinGasPriceFlag.Name))
		}
		if ctx.IsSet(MaxGasPriceFlag.Name) {
			chainCfg.MaxGasPrice = new(big.Int).SetUint64(ctx.Uint64(MaxGasPriceFlag.Name))
		}
		cfg.ChainConfig = &chainCfg
	}
}
