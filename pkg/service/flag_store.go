package service

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/berguner/looper/pkg/models"
	"github.com/pkg/errors"
)

// PipelineMatcher tests flag file names against a normalized set of
// pipeline names. A name matches when it starts with one of them, so
// variants sharing a prefix ("rnaseq", "rnaseq_v2") are matched together.
// An empty set matches every name.
type PipelineMatcher struct {
	names []string
}

func NewPipelineMatcher(names ...string) PipelineMatcher {
	seen := make(map[string]struct{}, len(names))
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	return PipelineMatcher{names: normalized}
}

func (m PipelineMatcher) Names() []string {
	return append([]string(nil), m.names...)
}

func (m PipelineMatcher) Match(filename string) bool {
	if len(m.names) == 0 {
		return true
	}
	for _, name := range m.names {
		if strings.HasPrefix(filename, name) {
			return true
		}
	}
	return false
}

// RunState is the status of one (sample, pipeline) pair as read from disk.
type RunState struct {
	Sample    string
	Pipeline  string
	Current   *models.Flag  // Authoritative flag, nil when the pair never ran
	Conflicts []models.Flag // Other flags present for the pair, newest first
}

func (r RunState) HasFlag() bool {
	return r.Current != nil
}

// Status returns the authoritative status, or "" when there is no flag.
func (r RunState) Status() models.FlagStatus {
	if r.Current == nil {
		return ""
	}
	return r.Current.Status
}

// Ambiguous reports whether more than one flag claims the pair.
func (r RunState) Ambiguous() bool {
	return len(r.Conflicts) > 0
}

// FlagStore reads run status markers below sample folders. It never writes
// and never caches; every call reflects the filesystem at call time.
type FlagStore struct {
	logger Logger
}

func NewFlagStore(logger Logger) *FlagStore {
	return &FlagStore{logger: orNop(logger)}
}

// SampleFlags returns the flag files directly under the sample's folder
// whose names start with one of pipelineNames (all flags when none given).
// Paths come back in directory listing order.
func (fs *FlagStore) SampleFlags(prj *models.Project, sample models.Sample, pipelineNames ...string) ([]string, error) {
	folder, err := SampleFolder(prj, sample)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &models.MissingFolderError{Path: folder}
		}
		return nil, errors.Wrapf(err, "stat sample folder %s", folder)
	}
	if !info.IsDir() {
		return nil, &models.MissingFolderError{Path: folder}
	}
	entries, err := os.ReadDir(folder)
	if err != nil {
		return nil, errors.Wrapf(err, "list sample folder %s", folder)
	}

	match := NewPipelineMatcher(pipelineNames...)
	flags := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != models.FlagExt {
			continue
		}
		if !match.Match(name) {
			continue
		}
		flags = append(flags, filepath.Join(folder, name))
	}
	fs.logger.Tracef("Found %d flag(s) in %s for %v", len(flags), folder, match.Names())
	return flags, nil
}

// SampleStatus resolves the authoritative status of the sample for one
// pipeline. A sample folder that does not exist yet means the pair never
// ran. When several flags are present the most recently modified one wins,
// ties broken by the greatest path; the rest are reported as Conflicts.
func (fs *FlagStore) SampleStatus(prj *models.Project, sample models.Sample, pipeline string) (RunState, error) {
	name, _ := sample.Name()
	state := RunState{Sample: name, Pipeline: pipeline}

	paths, err := fs.SampleFlags(prj, sample, pipeline)
	if err != nil {
		var missing *models.MissingFolderError
		if errors.As(err, &missing) {
			fs.logger.Debugf("No sample folder for %s: %s", name, missing.Path)
			return state, nil
		}
		return state, err
	}

	flags := make([]models.Flag, 0, len(paths))
	for _, path := range paths {
		flag, err := models.ParseFlagName(path)
		if err != nil {
			fs.logger.Debugf("Ignoring flag file %s: %v", path, err)
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			// Removed between listing and stat; a re-scan will settle it.
			fs.logger.Debugf("Flag file %s vanished: %v", path, err)
			continue
		}
		flag.ModTime = info.ModTime()
		flags = append(flags, flag)
	}
	if len(flags) == 0 {
		return state, nil
	}

	sort.SliceStable(flags, func(i, j int) bool {
		if !flags[i].ModTime.Equal(flags[j].ModTime) {
			return flags[i].ModTime.After(flags[j].ModTime)
		}
		return flags[i].Path > flags[j].Path
	})
	current := flags[0]
	state.Current = &current
	if len(flags) > 1 {
		state.Conflicts = flags[1:]
		fs.logger.Warnf("Sample %s has %d flags for pipeline %s; using %s", name, len(flags), pipeline, current.Path)
	}
	return state, nil
}
