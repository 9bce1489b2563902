package app

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Run serves HTTP, polls the bot and runs the janitor until ctx is done or
// one of them fails. The HTTP server drains within ShutdownTimeout, then
// detached broadcasts are awaited.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.Config.ShutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(sctx)
	})
	g.Go(func() error { return a.Janitor.Start(gctx) })
	if a.Poller != nil {
		g.Go(func() error { return a.Poller.Run(gctx) })
	}

	err := g.Wait()
	a.Requests.Wait()
	log.Info().Msg("dispatcher stopped")
	return err
}
