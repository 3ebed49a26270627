package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkade-os/fee-distributor/internal/config"
	httpservice "github.com/arkade-os/fee-distributor/internal/interface/http"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

// Version will be set during build time
var Version string

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "feedistd"
	app.Usage = "run or manage the fee distributor"
	app.UsageText = "Run the fee distributor with:\n\tfeedistd\nManage it with:\n\tfeedistd [global options] command [command options]"
	app.Flags = config.Flags
	app.Action = mainAction
	app.Commands = cli.Commands{
		statusCmd,
		reportsCmd,
		paramsCmd,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func mainAction(ctx *cli.Context) error {
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.SetLevel(log.Level(cfg.LogLevel))
	if cfg.LogLevel >= int(log.DebugLevel) {
		log.SetReportCaller(true)
	}

	svcConfig := httpservice.Config{
		Port:           cfg.Port,
		SchedulerToken: cfg.SchedulerToken,
		TransportToken: cfg.TransportToken,
		AdminToken:     cfg.AdminToken,
	}

	svc, err := httpservice.NewService(svcConfig, cfg)
	if err != nil {
		return err
	}

	log.Infof("feedistd config: %s", cfg)
	log.Debug("starting service...")
	if err := svc.Start(); err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		<-gctx.Done()
		log.Debug("shutting down service...")
		svc.Stop()
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown service")
	return nil
}
