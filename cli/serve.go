package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"depvet/handlers"
	"depvet/model"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		port     string
		schedule bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry and vetting HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return o.withApp(ctx, func(a *app) error {
				if schedule {
					c, err := a.scheduleMonitor(ctx)
					if err != nil {
						return err
					}
					c.Start()
					defer c.Stop()
				}

				srv := &http.Server{
					Addr:              ":" + firstNonEmpty(port, a.cfg.Server.Port),
					Handler:           a.router(),
					ReadHeaderTimeout: 10 * time.Second,
				}

				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil {
						a.log.WithError(err).Warn("Server shutdown")
					}
				}()

				a.log.Infof("starting on port %s...", srv.Addr[1:])
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default server.port)")
	cmd.Flags().BoolVar(&schedule, "schedule", true, "run the health monitor on monitoring.schedule")
	return cmd
}

func (a *app) router() http.Handler {
	handler := &handlers.Handler{
		Registry:     a.registry,
		History:      a.history,
		Vetter:       a.service,
		Monitor:      a.monitor,
		ApprovedBy:   a.cfg.Vetting.ApprovedBy,
		Frequency:    a.cfg.Monitoring.Frequency,
		DefaultLevel: model.VettingLevel(a.cfg.Vetting.Level),
		Log:          a.log,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.Logger)

	r.Get("/dependencies", handler.ListDependencies)
	r.Post("/dependencies", handler.CreateDependency)
	r.Post("/dependencies/refresh", handler.RefreshHandler)
	r.Get("/dependencies/{name}", handler.GetDependency)
	r.Put("/dependencies/{name}", handler.UpdateDependency)
	r.Delete("/dependencies/{name}", handler.DeleteDependency)
	r.Get("/dependencies/{name}/history", handler.HealthHistory)
	r.Get("/dependencies/{name}/vetting", handler.GetLatestVetting)

	r.Post("/vettings", handler.CreateVetting)
	r.Get("/vettings", handler.ListVettings)
	r.Get("/vettings/{id}", handler.GetVetting)
	r.Delete("/vettings/{id}", handler.DeleteVetting)

	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	return r
}
