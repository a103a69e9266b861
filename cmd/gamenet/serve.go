package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/wire"
)

// msgChat carries one chat line. The relay prefixes it with the sender and
// broadcasts it to every client.
const msgChat gamenet.NetMessage = 0x0001

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a chat relay server",
		Long: `Start a server on every transport enabled in the config file and
relay chat lines between connected clients.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := wire.LoadSettings(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := wire.NewServer(settings, wire.NewRegistry(),
				wire.WithServerMetrics(wire.NewMetrics()),
				wire.WithCheckOrigin(wire.AllOrigins()),
				wire.WithOnConnect(func(c gamenet.Conn) {
					logrus.WithFields(logrus.Fields{
						"conn_id":     c.ID(),
						"remote_addr": c.RemoteAddr(),
					}).Info("Player joined")
				}),
				wire.WithOnDisconnect(func(c gamenet.Conn) {
					logrus.WithField("conn_id", c.ID()).Info("Player left")
				}),
			)
			if err != nil {
				return err
			}

			err = server.RegisterHandler(msgChat, func(c gamenet.Conn, r gamenet.Reader) error {
				line, err := r.ReadString()
				if err != nil {
					return err
				}
				return server.Broadcast(msgChat, func(w gamenet.Writer) {
					w.WriteString(c.ID()[:8] + ": " + line)
				})
			})
			if err != nil {
				return err
			}

			if err := server.Start(ctx); err != nil {
				return err
			}

			var metricsServer *http.Server
			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
				go func() {
					if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logrus.WithError(err).Error("Metrics server failed")
					}
				}()
				logrus.WithField("addr", metricsAddr).Info("Serving metrics")
			}

			<-ctx.Done()
			logrus.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if metricsServer != nil {
				_ = metricsServer.Shutdown(shutdownCtx)
			}
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gamenet.yaml", "Settings file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Address to serve Prometheus metrics on, e.g. :9100")

	return cmd
}
