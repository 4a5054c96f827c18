package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-auth-session/internal/metrics"
	"github.com/jrsteele09/go-auth-session/realtime"
	"github.com/jrsteele09/go-auth-session/routing"
	"github.com/jrsteele09/go-auth-session/session"
)

func newWatchCommand(a *app) *cobra.Command {
	var noBanner bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the session and realtime channel alive until interrupted",
		Long: `watch restores the session, keeps the realtime channel bound to the current access token
and logs every session and connection change. When metrics.enabled is set it also serves
/metrics and a session-gated /me on metrics.addr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.client
			if !noBanner {
				displayAppname(cmd, c.Config.GetAppName())
			}

			c.Session.OnTransition(func(tr session.Transition) {
				log.Info().
					Str("event", tr.Event.String()).
					Str("from", tr.From.Status.String()).
					Str("to", tr.To.Status.String()).
					Bool("forced", tr.Forced).
					Msg("watch.session")
			})
			c.Realtime.OnStateChange(func(sc realtime.StateChange) {
				ev := log.Info()
				if sc.Err != nil {
					ev = log.Warn().Err(sc.Err)
				}
				ev.Str("from", sc.From.String()).
					Str("to", sc.To.String()).
					Int("attempt", sc.Attempt).
					Msg("watch.realtime")
			})

			var server *http.Server
			if c.Registry != nil {
				server = &http.Server{
					Addr:              c.Config.GetMetricsAddr(),
					Handler:           newWatchHandler(c.Registry, c.Session),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go listenAndServe(server)
			}

			err := c.Run(cmd.Context())
			if server != nil {
				if serr := shutdown(server); serr != nil && err == nil {
					err = serr
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&noBanner, "no-banner", false, "Skip the startup banner")
	return cmd
}

func newWatchHandler(reg prometheus.Gatherer, sm *session.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.HandlerFor(reg))
	mux.Handle("/me", routing.RequireSession(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := routing.UserFromContext(r.Context())
		fmt.Fprintln(w, describeUser(u))
	})))
	return mux
}

func listenAndServe(server *http.Server) {
	log.Info().Str("addr", server.Addr).Msg("watch.listen")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("watch.listen")
	}
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(cmd *cobra.Command, appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(cmd.OutOrStdout(), myFigure.String())
}
