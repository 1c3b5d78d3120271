package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/districtscouts/roster/internal/api"
	"github.com/districtscouts/roster/internal/app"
	"github.com/districtscouts/roster/internal/app/scheduler"
	"github.com/districtscouts/roster/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func (c *cli) serveCommand() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled jobs and expose metrics until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), func(rt *app.Runtime) error {
				sched := scheduler.New(rt.Runner, rt.Jobs())
				if once {
					return sched.RunOnce(cmd.Context(), scheduler.TriggerCLI)
				}
				var router http.Handler
				if rt.Config.Metrics.Enabled {
					if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
						gin.SetMode(gin.ReleaseMode)
					}
					engine, err := api.NewRouter(rt.DB, rt.Config.Metrics.Path)
					if err != nil {
						return err
					}
					router = engine
				}
				return serve(cmd.Context(), rt.Config.Metrics.Address, router, sched)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run every job once in order, then exit")
	return cmd
}

// serve runs the scheduler until ctx ends. A nil router disables the HTTP listener.
func serve(ctx context.Context, addr string, router http.Handler, sched *scheduler.Scheduler) error {
	log := logger.WithModule("server")

	if err := sched.Start(); err != nil {
		return err
	}

	var srv *http.Server
	errCh := make(chan error, 1)
	if router != nil {
		srv = &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("http listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			serveErr = err
			log.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", zap.Error(err))
		}
	}

	select {
	case <-sched.Stop().Done():
		log.Info("scheduler stopped gracefully")
	case <-shutdownCtx.Done():
		log.Warn("scheduler did not stop before the shutdown timeout")
	}
	return serveErr
}
