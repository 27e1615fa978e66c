package main

import (
	"os"
	"time"

	"github.com/bruin-data/dealsync/cmd"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = ""
)

func main() {
	isDebug := false
	color.NoColor = false

	versionCommand := cmd.VersionCmd(commit)

	cli.VersionPrinter = func(cCtx *cli.Context) {
		err := versionCommand.Action(cCtx)
		if err != nil {
			panic(err)
		}
	}

	app := &cli.App{
		Name:     "dealsync",
		Version:  version,
		Usage:    "Export CRM deals into a BigQuery table",
		Compiled: time.Now(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "debug",
				Value:       false,
				Usage:       "show debug information",
				Destination: &isDebug,
			},
		},
		Commands: []*cli.Command{
			cmd.Run(&isDebug),
			cmd.Serve(&isDebug),
			cmd.Schedule(&isDebug),
			cmd.Fields(&isDebug),
			cmd.Init(),
			versionCommand,
		},
	}

	_ = app.Run(os.Args)
}
