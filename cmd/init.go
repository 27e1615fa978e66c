package cmd

import (
	"github.com/bruin-data/dealsync/pkg/config"
	"github.com/urfave/cli/v2"
)

func Init() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "create a configuration file with placeholder values",
		ArgsUsage: "[path to the configuration file]",
		Action: func(c *cli.Context) error {
			path := c.Args().Get(0)
			if path == "" {
				path = config.DefaultFileName
			}

			if _, err := config.Create(fs, path); err != nil {
				errorPrinter.Printf("Failed to create the configuration: %v\n", err)
				return cli.Exit("", 1)
			}

			successPrinter.Printf("Created %s\n", path)
			infoPrinter.Println("Fill in the CRM webhook and the BigQuery destination, then run `dealsync run --dry-run` to check the export.")
			return nil
		},
	}
}
