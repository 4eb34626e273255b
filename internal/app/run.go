package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Run starts the broadcaster, the metrics endpoint and the scheduler, and
// blocks until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Events raised while sessions drain must still be delivered, so the
	// broadcaster outlives the scheduler.
	bctx, stopBroadcast := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBroadcast()
	g.Go(func() error { return a.async.Run(bctx) })

	srv := &http.Server{
		Addr:              a.Config.MetricsAddr,
		Handler:           a.metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		a.Logger.Info("metrics_listen", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	g.Go(func() error {
		defer stopBroadcast()
		if err := a.Scheduler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		a.Scheduler.Stop()
		a.Registry.Wait()
		return nil
	})

	err := g.Wait()
	a.Logger.Info("app_stopped", zap.Error(err))
	return err
}

func (a *App) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
