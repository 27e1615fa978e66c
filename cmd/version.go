package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// VersionCmd reports the build version. It makes no network calls so it stays
// usable on hosts that only reach the CRM and BigQuery.
func VersionCmd(commit string) *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "print the dealsync version and build commit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "the output type, possible values are: plain, json",
			},
		},
		Action: func(c *cli.Context) error {
			w := c.App.Writer
			if c.String("output") == "json" {
				out, err := json.Marshal(VersionInfo{Version: c.App.Version, Commit: commit})
				if err != nil {
					return errors.Wrap(err, "failed to marshal the output")
				}
				fmt.Fprintln(w, string(out))
				return nil
			}

			fmt.Fprintf(w, "Version: %s (%s)\n", c.App.Version, commit)
			return nil
		},
	}
}
