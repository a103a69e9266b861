package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/wire"
)

func pingCmd() *cobra.Command {
	var (
		configPath string
		count      int
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Measure round-trip time to a server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := wire.LoadSettings(configPath)
			if err != nil {
				return err
			}
			settings.PingPeriod = 0

			results := make(chan gamenet.ConnectResult, 1)
			client, err := wire.NewClient(settings, nil, wire.WithOnConnectResult(func(r gamenet.ConnectResult) {
				results <- r
			}))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if err := client.Connect(ctx); err != nil {
				return err
			}
			done := make(chan struct{})
			go func() {
				defer close(done)
				client.Run(ctx)
			}()
			defer func() {
				client.GracefulDisconnect()
				<-done
			}()

			if r := <-results; r != gamenet.ConnectSuccess {
				return fmt.Errorf("connect to %s: %s", settings.ServerAddr(), r)
			}
			fmt.Printf("Connected to %s\n", client.RemoteAddr())

			timeout := settings.ConnectTimeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}

			for i := range count {
				if err := client.Ping(); err != nil {
					return err
				}
				if !waitAnswer(ctx, client, timeout) {
					return fmt.Errorf("ping %d: no answer within %s", i+1, timeout)
				}
				fmt.Printf("ping %d: rtt=%s\n", i+1, client.RTT())

				if i+1 < count {
					select {
					case <-time.After(interval):
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}

			stats := client.Stats()
			fmt.Printf("wire: %d bytes sent, %d received; payload: %d sent, %d received\n",
				stats.WireBytesSent, stats.WireBytesReceived, stats.PayloadBytesSent, stats.PayloadBytesReceived)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "gamenet.yaml", "Settings file")
	cmd.Flags().IntVarP(&count, "count", "n", 4, "Number of pings")
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "Delay between pings")

	return cmd
}

// waitAnswer waits until the outstanding ping has been answered.
func waitAnswer(ctx context.Context, client *wire.Client, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	for {
		if !client.PingInFlight() {
			return true
		}
		if !client.IsConnected() {
			return false
		}
		select {
		case <-tick.C:
		case <-deadline.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
