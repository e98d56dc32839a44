package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wc-rpc/loadbalance"
	"wc-rpc/relay/relaytest"
)

func (a *app) devrelayCmd() *cobra.Command {
	var (
		addr      string
		advertise string
		weight    int
	)
	cmd := &cobra.Command{
		Use:   "devrelay",
		Short: "Run an in-memory relay for local development",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			hub := relaytest.NewHub(a.logger)
			srv := &http.Server{Handler: hub, ReadHeaderTimeout: 10 * time.Second}
			self := loadbalance.Endpoint{URL: advertise, Weight: weight}
			if self.URL == "" {
				self.URL = "ws://" + ln.Addr().String()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "relay listening on %s\n", self.URL)

			reg, closeReg, err := a.openRegistry()
			if err != nil {
				ln.Close()
				return err
			}
			defer closeReg()

			g, ctx := errgroup.WithContext(cmd.Context())
			if err := reg.Register(ctx, self, a.cfg.Relay.Registry.TTL); err != nil {
				ln.Close()
				return fmt.Errorf("announce relay: %w", err)
			}
			g.Go(func() error {
				if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
				defer cancel()
				a.logger.Info("relay shutting down", zap.Int("clients", hub.Clients()))
				if err := reg.Deregister(shutdownCtx, self.URL); err != nil {
					a.logger.Warn("deregister failed", zap.Error(err))
				}
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&advertise, "advertise", "", "URL announced to the relay registry (default ws://<addr>)")
	cmd.Flags().IntVar(&weight, "weight", 1, "balancer weight announced with the URL")
	return cmd
}
