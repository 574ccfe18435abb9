package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarrymath/quarry/config"
	"github.com/quarrymath/quarry/internal/pool"
	srv "github.com/quarrymath/quarry/internal/server"
)

func serveCMD() *cobra.Command {
	var cfgPath string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and ops endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logger := log.New(os.Stdout, "[POOL] ", log.LstdFlags)
			p := &pool.Pool{Logger: logger, Deps: depsFactory(cfg)}

			return srv.Run(cmd.Context(), cfg, p)
		},
	}
	serve.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return serve
}
