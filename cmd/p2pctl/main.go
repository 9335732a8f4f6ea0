package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/odyssey-p2p/cmd/p2pctl/cli"
	"github.com/odyssey-erp/odyssey-p2p/internal/app"
	"github.com/odyssey-erp/odyssey-p2p/internal/platform/db"
	"github.com/odyssey-erp/odyssey-p2p/internal/procurement"
	"github.com/odyssey-erp/odyssey-p2p/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	root := cli.NewRootCommand(cli.Runtime{
		Out: os.Stdout,
		OpenProcurement: func(ctx context.Context) (cli.ProcurementOps, func(), error) {
			pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
			if err != nil {
				return nil, nil, err
			}
			svc := procurement.NewService(procurement.NewRepository(pool), shared.NewAuditLogger(pool), logger)
			return svc, pool.Close, nil
		},
		OpenJobs: func() (cli.JobOps, error) {
			return cli.NewJobsCLI(cfg.RedisAddr, cfg.SweepConcurrency), nil
		},
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
