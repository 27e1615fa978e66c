package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bruin-data/dealsync/pkg/bitrix"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func Fields(isDebug *bool) *cli.Command {
	return &cli.Command{
		Name:  "fields",
		Usage: "print the deal field labels and stage names the CRM reports",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "the output type, possible values are: plain, json",
			},
		},
		Action: func(c *cli.Context) error {
			output := c.String("output")
			logger := makeLogger(*isDebug)
			defer func() { _ = logger.Sync() }()

			cfg, err := loadConfig(fs, c.String("config"))
			if err != nil {
				printErrorForOutput(output, err)
				return cli.Exit("", 1)
			}

			client, err := bitrix.NewClient(cfg.CRM, logger)
			if err != nil {
				printErrorForOutput(output, err)
				return cli.Exit("", 1)
			}

			fields, err := client.FetchFieldMapping(c.Context)
			if err != nil {
				printErrorForOutput(output, err)
				return cli.Exit("", 1)
			}

			stages, err := client.FetchStageMapping(c.Context)
			if err != nil {
				printErrorForOutput(output, err)
				return cli.Exit("", 1)
			}

			if output == "json" {
				js, err := json.Marshal(bitrix.Metadata{Fields: fields, Stages: stages})
				if err != nil {
					printErrorForOutput(output, errors.Wrap(err, "failed to marshal the output"))
					return cli.Exit("", 1)
				}
				fmt.Println(string(js))
				return nil
			}

			renderMapping(os.Stdout, "Label", fields)
			fmt.Println()
			renderMapping(os.Stdout, "Stage", stages)
			return nil
		},
	}
}
