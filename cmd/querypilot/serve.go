package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rahul/querypilot/internal/gateway"
	"github.com/rahul/querypilot/internal/observability"
	"github.com/rahul/querypilot/pkg/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway, the Telegram bot and the report scheduler",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	observability.PrintBanner(os.Stdout)

	// Route all log output through the terminal mutex so it never
	// interrupts the dashboard's cursor save/restore sequence.
	log.SetOutput(observability.NewTermWriter())

	cfg := config.LoadConfig(configPath)

	a, err := newApp(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	started := 0

	if httpCfg, ok := cfg.GetHTTPConfig(); ok {
		gw := gateway.NewHTTPGateway(a.pipeline, a.tenants, a.registry, a.ready)
		g.Go(func() error { return gw.Serve(ctx, httpCfg.Addr) })
		started++
	}

	if tgCfg, ok := cfg.GetTelegramConfig(); ok {
		if _, err := a.tenants.Lookup(ctx, tgCfg.Tenant); err != nil {
			return fmt.Errorf("telegram gateway: %w", err)
		}
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, &gateway.ChatHandler{
			Runner:   a.pipeline,
			Store:    a.store,
			TenantID: tgCfg.Tenant,
		})
		if err != nil {
			return fmt.Errorf("telegram gateway: %w", err)
		}
		g.Go(func() error { return tg.Start(ctx) })

		scheduler := gateway.NewScheduler(a.pipeline, a.store, tg)
		g.Go(func() error { return scheduler.Start(ctx) })
		started++
	}

	if started == 0 {
		return fmt.Errorf("no gateway enabled in %s", configPath)
	}

	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				observability.Heartbeat()
				active, _, _, _ := observability.GetStatus()
				a.logger.LogHeartbeat(active)
			}
		}
	})

	// Live dashboard (1-second updates)
	if cfg.App.Dashboard && observability.IsTerminal() {
		g.Go(func() error {
			ticker := time.NewTicker(1 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					observability.PrintLiveStatus()
				}
			}
		})
	}

	err = g.Wait()
	log.Println("\033[95m[ EXIT ] QUERYPILOT SHUT DOWN. GOODBYE.\033[0m")
	return err
}
