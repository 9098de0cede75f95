// Package config loads looper's process environment and project files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/berguner/looper/pkg/models"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// projectFile mirrors the project YAML. Sample attributes and pipeline
// config entries are decoded loosely and normalized afterwards.
type projectFile struct {
	Name           string                   `yaml:"name"`
	Metadata       map[string]string        `yaml:"metadata"`
	PipelineConfig map[string]interface{}   `yaml:"pipeline_config"`
	Pipelines      []models.PipelineSpec    `yaml:"pipelines"`
	Samples        []map[string]interface{} `yaml:"samples"`
}

// LoadProject reads a project YAML file. Relative results_subdir and
// pipeline config paths resolve against the file's directory.
func LoadProject(path string) (*models.Project, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read project config %s", path)
	}
	prj, err := ParseProject(raw, filepath.Dir(path))
	if err != nil {
		return nil, errors.WithMessagef(err, "project config %s", path)
	}
	return prj, nil
}

// ParseProject decodes project YAML, resolving relative paths against baseDir.
func ParseProject(raw []byte, baseDir string) (*models.Project, error) {
	var file projectFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, errors.Wrap(err, "decode project")
	}
	sections := map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return nil, errors.Wrap(err, "decode project sections")
	}

	prj := &models.Project{
		Name:      file.Name,
		Metadata:  file.Metadata,
		Pipelines: file.Pipelines,
		Sections:  sections,
	}
	if prj.Metadata == nil {
		prj.Metadata = map[string]string{}
	}
	if dir, ok := prj.Metadata[models.ResultsSubdirKey]; ok && dir != "" {
		prj.Metadata[models.ResultsSubdirKey] = resolve(baseDir, dir)
	}

	if file.PipelineConfig != nil {
		prj.PipelineConfig = make(map[string]string, len(file.PipelineConfig))
		for key, value := range file.PipelineConfig {
			switch v := value.(type) {
			case nil:
				prj.PipelineConfig[key] = ""
			case string:
				if v == "" {
					prj.PipelineConfig[key] = ""
				} else {
					prj.PipelineConfig[key] = resolve(baseDir, v)
				}
			default:
				return nil, errors.Errorf("pipeline_config.%s: expected a path, got %v", key, value)
			}
		}
	}

	seen := make(map[string]int, len(file.Samples))
	for i, attrs := range file.Samples {
		sample := make(models.Sample, len(attrs))
		for k, v := range attrs {
			if v == nil {
				continue
			}
			sample[k] = fmt.Sprint(v)
		}
		name, ok := sample.Name()
		if !ok {
			return nil, &models.InvalidSampleError{Reason: fmt.Sprintf("sample #%d lacks %s", i+1, models.SampleNameKey)}
		}
		if prev, dup := seen[name]; dup {
			return nil, &models.InvalidSampleError{Reason: fmt.Sprintf("samples #%d and #%d share the name %q", prev+1, i+1, name)}
		}
		seen[name] = i
		prj.Samples = append(prj.Samples, sample)
	}

	for i, p := range prj.Pipelines {
		if p.Key == "" {
			return nil, errors.Errorf("pipelines[%d]: key is required", i)
		}
	}
	return prj, nil
}

// Pipeline returns the pipeline declared under key.
func Pipeline(prj *models.Project, key string) (models.PipelineSpec, bool) {
	for _, p := range prj.Pipelines {
		if p.Key == key {
			return p, true
		}
	}
	return models.PipelineSpec{}, false
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
