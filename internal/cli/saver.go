package cli

import (
	"context"

	"github.com/saworbit/zfsbackup/internal/config"
	"github.com/saworbit/zfsbackup/internal/retry"
)

// dataFileSaver persists a run's progress by rewriting data.InProgressStep
// and saving the whole BackupData file after every transition, which is
// what lets a killed process resume from exactly where it left off.
type dataFileSaver struct {
	data     *config.BackupData
	dataPath string
}

var _ retry.StateSaver[config.Step] = (*dataFileSaver)(nil)

func (s *dataFileSaver) Save(ctx context.Context, step config.Step) error {
	s.data.InProgressStep = &step
	return s.data.Save(s.dataPath)
}
