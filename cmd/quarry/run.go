package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrymath/quarry/config"
	"github.com/quarrymath/quarry/internal/engine"
	"github.com/quarrymath/quarry/internal/pool"
	"github.com/quarrymath/quarry/internal/pslq"
	"github.com/quarrymath/quarry/internal/store"
)

func newKernel(cfg *config.Config) *pslq.Exec {
	return pslq.NewExec(cfg.Kernel.Command, cfg.Kernel.Args...)
}

func runCMD() *cobra.Command {
	var cfgPath string
	var run = &cobra.Command{
		Use:   "run",
		Short: "Run the configured discovery jobs once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger := log.New(os.Stdout, "[RUN] ", log.LstdFlags)

			jobs, err := pool.BuildJobs(cfg.Jobs, logger)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				logger.Printf("no jobs configured, nothing to run")
				return nil
			}

			p := &pool.Pool{Logger: logger, Deps: depsFactory(cfg)}
			results := p.Start(cmd.Context(), jobs)
			for _, r := range results {
				if r.Err != nil {
					logger.Printf("job %s didn't run! check logs", r.Name)
					continue
				}
				logger.Printf("job %s: found %d relations (%d/%d workers failed)",
					r.Name, r.Summary.Found, r.Summary.FailedWorkers, r.Summary.TotalWorkers)
			}
			return nil
		},
	}
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return run
}

// depsFactory gives every worker its own store connection, so a slow or
// failed transaction in one worker never stalls another. The kernel adapter
// is stateless and shared by construction. The pool releases each store when
// the job finishes; scheduler fires in serve mode would otherwise leak one
// connection pool per worker per fire.
func depsFactory(cfg *config.Config) pool.DepsFactory {
	return func(jobName string, worker int) (engine.Deps, func() error, error) {
		return buildDeps(cfg, jobName, worker)
	}
}

func buildDeps(cfg *config.Config, jobName string, worker int) (engine.Deps, func() error, error) {
	s, err := store.NewWithDSN(context.Background(), cfg.Storage.Postgres.DSN())
	if err != nil {
		return engine.Deps{}, nil, fmt.Errorf("open store: %w", err)
	}
	logger := log.New(os.Stdout, fmt.Sprintf("[%s:%d] ", jobName, worker), log.LstdFlags)
	return engine.Deps{
		Source:    s,
		Relations: s,
		Tester:    newKernel(cfg),
		Logger:    logger,
		JobName:   jobName,
	}, s.Close, nil
}
