package service

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/berguner/looper/pkg/models"
	"github.com/pkg/errors"
)

// Aggregator collects flag files by kind, either across a project's
// samples or directly over a results tree with one folder per sample.
type Aggregator struct {
	logger Logger
}

func NewAggregator(logger Logger) *Aggregator {
	return &Aggregator{logger: orNop(logger)}
}

// FlagsByKind maps each requested kind to the flag files of that kind.
// Exactly one of prj and resultsRoot must be given. No kinds means every
// known status. Every requested kind gets an entry, empty when nothing matched.
func (a *Aggregator) FlagsByKind(prj *models.Project, resultsRoot string, kinds ...models.FlagStatus) (models.FlagIndex, error) {
	if (prj == nil) == (resultsRoot == "") {
		return nil, &models.ArgumentConflictError{Args: []string{"project", "results root"}}
	}
	kinds = normalizeKinds(kinds)
	index := make(models.FlagIndex, len(kinds))
	for _, kind := range kinds {
		index[kind] = []string{}
	}

	if prj == nil {
		entries, err := os.ReadDir(resultsRoot)
		if err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "list results root %s", resultsRoot)
		}
		for _, entry := range entries {
			if entry.Type().IsRegular() {
				continue
			}
			if err := collectFlags(index, filepath.Join(resultsRoot, entry.Name()), kinds); err != nil {
				return nil, err
			}
		}
		a.logger.Debugf("Scanned %s for %d flag kind(s)", resultsRoot, len(kinds))
		return index, nil
	}

	for _, sample := range prj.Samples {
		folder, err := SampleFolder(prj, sample)
		if err != nil {
			return nil, err
		}
		if err := collectFlags(index, folder, kinds); err != nil {
			return nil, err
		}
	}
	a.logger.Debugf("Scanned %d sample(s) of project %s for %d flag kind(s)", len(prj.Samples), prj.Name, len(kinds))
	return index, nil
}

// collectFlags adds the flag files directly under folder to index. Only the
// file names are matched against the kind patterns, so the folder path is
// taken literally. A missing folder holds no flags.
func collectFlags(index models.FlagIndex, folder string, kinds []models.FlagStatus) error {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
			return nil
		}
		return errors.Wrapf(err, "list %s", folder)
	}
	for _, kind := range kinds {
		pattern := flagPattern(kind)
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ok, err := filepath.Match(pattern, entry.Name())
			if err != nil {
				return errors.Wrapf(err, "match %s flags", kind)
			}
			if ok {
				index[kind] = append(index[kind], filepath.Join(folder, entry.Name()))
			}
		}
	}
	return nil
}

// Summarize counts the flag files per kind.
func Summarize(index models.FlagIndex) map[models.FlagStatus]int {
	counts := make(map[models.FlagStatus]int, len(index))
	for kind, paths := range index {
		counts[kind] = len(paths)
	}
	return counts
}

func flagPattern(kind models.FlagStatus) string {
	return "*" + string(kind) + models.FlagExt
}

func normalizeKinds(kinds []models.FlagStatus) []models.FlagStatus {
	if len(kinds) == 0 {
		return models.AllFlagStatuses()
	}
	seen := make(map[models.FlagStatus]struct{}, len(kinds))
	out := make([]models.FlagStatus, 0, len(kinds))
	for _, kind := range kinds {
		if _, ok := seen[kind]; ok {
			continue
		}
		seen[kind] = struct{}{}
		out = append(out, kind)
	}
	return out
}
