package cmd

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bruin-data/dealsync/pkg/job"
	"github.com/bruin-data/dealsync/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

const maxEventSize = 1 << 20

type invoker interface {
	Invoke(ctx context.Context, event interface{}) (string, *job.Summary, error)
}

func Serve(isDebug *bool) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "start an HTTP server that runs the export on POST /trigger",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "address",
				Usage: "the address to listen on, overrides serve.address from the configuration",
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

			j, closeJob, err := buildJob(c.Context, cfg, logger, false)
			if err != nil {
				printErrorForOutput("", err)
				return cli.Exit("", 1)
			}
			defer closeJob()

			address := cfg.Serve.Address
			if c.IsSet("address") {
				address = c.String("address")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              address,
				Handler:           newRouter(j, logger),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errs := make(chan error, 1)
			go func() {
				logger.Infof("listening on %s", address)
				errs <- server.ListenAndServe()
			}()

			select {
			case err := <-errs:
				if !errors.Is(err, http.ErrServerClosed) {
					printErrorForOutput("", errors.Wrap(err, "server stopped"))
					return cli.Exit("", 1)
				}
			case <-ctx.Done():
				logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return errors.Wrap(err, "failed to shut down the server")
				}
			}

			return nil
		},
	}
}

func newRouter(trigger invoker, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxEventSize))
		if err != nil {
			http.Error(w, "failed to read the request body", http.StatusBadRequest)
			return
		}

		var event interface{}
		if len(body) > 0 {
			event = json.RawMessage(body)
		}

		log.Infow("run triggered", "request_id", chimw.GetReqID(r.Context()), "remote", r.RemoteAddr)

		// the run outlives a client that hangs up
		msg, _, err := trigger.Invoke(context.WithoutCancel(r.Context()), event)

		status := http.StatusOK
		switch {
		case errors.Is(err, job.ErrAlreadyRunning):
			status = http.StatusConflict
		case err != nil:
			status = http.StatusInternalServerError
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(msg))
	})

	return r
}
