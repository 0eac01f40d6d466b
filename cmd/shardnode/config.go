package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	gethutils "github.com/ethereum/go-ethereum/cmd/utils"
	"github.com/ethereum/go-ethereum/node"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"

	"github.com/shardnode/shardnode/cmd/utils"
	"github.com/shardnode/shardnode/internal/flags"
	"github.com/shardnode/shardnode/internal/version"
	"github.com/shardnode/shardnode/params"
	"github.com/shardnode/shardnode/service"
)

var configFileFlag = &cli.StringFlag{
	Name:     "config",
	Usage:    "TOML configuration file",
	Category: flags.EthCategory,
}

// tomlSettings ensures TOML keys use the same names as the Go struct
// fields, the same naoina/toml configuration cmd/geth uses.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// shardnodeConfig is the top-level TOML document: the embedded node's
// configuration next to this service's own.
type shardnodeConfig struct {
	Node      node.Config
	Shardnode service.Config
}

func loadConfig(file string, cfg *shardnodeConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

func defaultNodeConfig() node.Config {
	git, _ := version.VCS()
	cfg := node.DefaultConfig
	cfg.Name = clientIdentifier
	cfg.Version = params.VersionWithCommit(git.Commit, git.Date)
	cfg.HTTPModules = append(cfg.HTTPModules, "chain")
	cfg.WSModules = append(cfg.WSModules, "chain")
	cfg.IPCPath = "shardnode.ipc"
	return cfg
}

// loadBaseConfig loads defaults, then a TOML file if --config was given,
// then applies CLI flags on top (defaults < file < flags).
func loadBaseConfig(ctx *cli.Context) shardnodeConfig {
	cfg := shardnodeConfig{
		Node:      defaultNodeConfig(),
		Shardnode: service.DefaultConfig,
	}

	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			gethutils.Fatalf("%v", err)
		}
	}

	utils.SetNodeConfig(ctx, &cfg.Node)
	utils.SetServiceConfig(ctx, &cfg.Shardnode)
	return cfg
}

// makeConfigNode loads shardnode configuration and creates a blank node
// instance. There is no account-manager wiring: validator identities are
// owned by the consensus engine and runtime adapter, not a local keystore.
func makeConfigNode(ctx *cli.Context) (*node.Node, shardnodeConfig) {
	cfg := loadBaseConfig(ctx)
	stack, err := node.New(&cfg.Node)
	if err != nil {
		gethutils.Fatalf("Failed to create the protocol stack: %v", err)
	}
	return stack, cfg
}
