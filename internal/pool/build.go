package pool

import (
	"fmt"
	"log"

	"github.com/quarrymath/quarry/config"
	"github.com/quarrymath/quarry/internal/catalog"
	"github.com/quarrymath/quarry/internal/engine"
)

// BuildJobs converts the configured jobs table into pool jobs, parsing each
// job's filter mapping. Unsupported filter types inside a job are dropped
// with a warning by ParseFilters; a structurally invalid filter fails the
// whole table, since running a half-configured job wastes kernel time.
func BuildJobs(cfgJobs []config.JobConfig, logger *log.Logger) ([]Job, error) {
	jobs := make([]Job, 0, len(cfgJobs))
	for _, jc := range cfgJobs {
		filters, err := catalog.ParseFilters(jc.Args.Filters, logger)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", jc.Name, err)
		}
		jobs = append(jobs, Job{
			Name: jc.Name,
			Args: engine.Args{
				Degree:           jc.Args.Degree,
				Order:            jc.Args.Order,
				Bulk:             jc.Args.Bulk,
				MinPrecision:     jc.Args.MinPrecision,
				MinROI:           jc.Args.MinROI,
				TestingPrecision: jc.Args.TestingPrecision,
				Strategy:         engine.Strategy(jc.Args.Strategy),
				Filters:          filters,
				HasFilters:       jc.Args.HasFilters(),
			},
			RunAsync:   jc.RunAsync,
			AsyncCores: jc.AsyncCores,
		})
	}
	return jobs, nil
}
