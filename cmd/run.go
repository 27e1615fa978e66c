package cmd

import (
	"os"

	"github.com/bruin-data/dealsync/pkg/job"
	"github.com/urfave/cli/v2"
)

func Run(isDebug *bool) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "export every deal from the CRM and replace the warehouse table with them",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "run everything except the warehouse load",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "on dry runs, write the generated CSV to this file",
			},
			&cli.StringSliceFlag{
				Name:  "label",
				Usage: "extra key=value label for the load job, can be repeated",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "the output type, possible values are: plain, json",
			},
		},
		Action: func(c *cli.Context) error {
			defer RecoverFromPanic()

			output := c.String("output")
			logger := makeLogger(*isDebug)
			defer func() { _ = logger.Sync() }()

			cfg, err := loadConfig(fs, c.String("config"))
			if err != nil {
				printErrorForOutput(output, err)
				return cli.Exit("", 1)
			}

			labels, err := parseLabels(c.StringSlice("label"))
			if err != nil {
				printErrorForOutput(output, err)
				return cli.Exit("", 1)
			}

			event := job.TriggerEvent{
				DryRun: c.Bool("dry-run"),
				Output: c.String("csv"),
				Labels: labels,
			}

			j, closeJob, err := buildJob(c.Context, cfg, logger, event.DryRun)
			if err != nil {
				printErrorForOutput(output, err)
				return cli.Exit("", 1)
			}
			defer closeJob()

			msg, summary, err := j.Invoke(c.Context, event)
			printResult(os.Stdout, output, msg, summary, err)
			if err != nil {
				return cli.Exit("", 1)
			}

			return nil
		},
	}
}
