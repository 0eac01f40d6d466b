package main

import (
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shardnode/shardnode/cmd/utils"
)

// setupLogging routes go-ethereum/log to stderr, and additionally to a
// rotating file via lumberjack when --log.file is set.
func setupLogging(ctx *cli.Context) error {
	usecolor := isatty.IsTerminal(os.Stderr.Fd()) && os.Getenv("TERM") != "dumb"

	var writer io.Writer = os.Stderr
	if usecolor {
		writer = colorable.NewColorableStderr()
	}
	if ctx.IsSet(utils.LogFileFlag.Name) {
		lj := &lumberjack.Logger{
			Filename:   ctx.String(utils.LogFileFlag.Name),
			MaxSize:    100, // megabytes
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		writer = io.MultiWriter(os.Stderr, lj)
		usecolor = false
	}
	handler := log.StreamHandler(writer, log.TerminalFormat(usecolor))
	log.Root().SetHandler(log.LvlFilterHandler(log.LvlInfo, handler))
	return nil
}
