package main

import (
	"fmt"
	"os"

	"github.com/docopt/docopt-go"

	"collabsync/pkg/config"
	"collabsync/pkg/util/logging"
)

const Version = "0.1.0"

func main() {
	usage := `Collaborative editing relay and participant.

Usage:
    collabsync relay [--config=<path>]
    collabsync join [--config=<path>] [--room=<room>] [--name=<name>]
    collabsync -h | --help
    collabsync --version

Options:
    -h --help         Show this screen.
    --version         Show version.
    --config=<path>   Configuration file [default: cmd/config.yaml].
    --room=<room>     Room to join, overrides room.id.
    --name=<name>     Display name, overrides node.name.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	path, _ := opts.String("--config")
	cfg, err := config.Read(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		os.Exit(1)
	}
	if room, _ := opts.String("--room"); room != "" {
		cfg.Room.ID = room
	}
	if name, _ := opts.String("--name"); name != "" {
		cfg.Node.Name = name
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.InitDefault(cfg.Node.ID)

	if relay_, _ := opts.Bool("relay"); relay_ {
		err = runRelay(cfg, logger)
	} else if join_, _ := opts.Bool("join"); join_ {
		err = runJoin(cfg, logger)
	}
	if err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}
