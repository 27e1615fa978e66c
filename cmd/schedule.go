package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bruin-data/dealsync/pkg/logger"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
)

func Schedule(isDebug *bool) *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "run the export on a cron schedule until interrupted",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "cron",
				Usage: "a standard 5-field cron expression, overrides schedule.cron from the configuration",
			},
		},
		Action: func(c *cli.Context) error {
			logger := makeLogger(*isDebug)
			defer func() { _ = logger.Sync() }()

			cfg, err := loadConfig(fs, c.String("config"))
			if err != nil {
				printErrorForOutput("", err)
				return cli.Exit("", 1)
			}

			spec := cfg.Schedule.Cron
			if c.IsSet("cron") {
				spec = c.String("cron")
			}
			if spec == "" {
				printErrorForOutput("", errors.New("no schedule given, set schedule.cron in the configuration or pass --cron"))
				return cli.Exit("", 1)
			}

			j, closeJob, err := buildJob(c.Context, cfg, logger, false)
			if err != nil {
				printErrorForOutput("", err)
				return cli.Exit("", 1)
			}
			defer closeJob()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			scheduler, err := newScheduler(ctx, spec, j, logger)
			if err != nil {
				printErrorForOutput("", err)
				return cli.Exit("", 1)
			}

			scheduler.Start()
			infoPrinter.Printf("Scheduled the export with '%s', next run at %s\n", spec, scheduler.Entries()[0].Next.Format("2006-01-02 15:04:05"))

			<-ctx.Done()
			logger.Info("stopping the scheduler, waiting for a running export to finish")
			<-scheduler.Stop().Done()

			return nil
		},
	}
}

func newScheduler(ctx context.Context, spec string, trigger invoker, log logger.Logger) (*cron.Cron, error) {
	cl := cronLogger{log}
	scheduler := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := scheduler.AddFunc(spec, func() {
		msg, _, err := trigger.Invoke(ctx, nil)
		if err != nil {
			warningPrinter.Println(msg)
			return
		}
		successPrinter.Println(msg)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "invalid schedule '%s'", spec)
	}

	return scheduler, nil
}

// cronLogger sends the scheduler's own messages to the application logger.
type cronLogger struct {
	logger logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
