package commands

import (
	"github.com/teranos/pulsestore/am"
	"github.com/teranos/pulsestore/db"
	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
	"github.com/teranos/pulsestore/pulse/schedule"
)

// stores bundles everything a command needs to work on the database.
type stores struct {
	cfg        *am.Config
	handle     *db.Handle
	health     *db.HealthCheck
	jobs       *schedule.Store
	executions *schedule.ExecutionStore
}

// openStores opens and migrates the configured database.
func openStores() (*stores, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	norm, err := cfg.Normalizer()
	if err != nil {
		return nil, errors.Wrap(err, "invalid store timezone settings")
	}

	codec, err := cfg.Codec()
	if err != nil {
		return nil, errors.Wrap(err, "invalid store.functions")
	}
	if reg, _ := cfg.Registry(); reg != nil {
		logger.ComponentLogger("jobstore").Debugw("Job functions restricted", logger.FieldCount, len(reg.Names()))
	}

	path := cfg.GetDatabasePath()
	handle, err := db.Connect(path, cfg.DatabaseOptions(), logger.ComponentLogger("db"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}

	health := db.NewHealthCheck(handle, cfg.PingInterval(), nil)
	return &stores{
		cfg:    cfg,
		handle: handle,
		health: health,
		jobs: schedule.NewStore(handle, schedule.StoreConfig{
			Codec:       codec,
			Normalizer:  norm,
			HealthCheck: health,
		}, logger.ComponentLogger("jobstore")),
		executions: schedule.NewExecutionStore(handle, norm, logger.ComponentLogger("executions")),
	}, nil
}

func (s *stores) Close() error {
	return s.jobs.Close()
}
