package service

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/berguner/looper/pkg/models"
)

const (
	OutputDirOpt     = "-O"
	ConfigOpt        = "-C"
	CoresOpt         = "-P"
	MemoryOpt        = "-M"
	coresSettingKey  = "cores"
	memorySettingKey = "mem"

	// Core counts at or above this do not fit an int on every platform.
	maxCores = 1 << 31
)

type optArg struct {
	opt string
	arg string
}

// ArgumentComposer turns project metadata and a resource request into the
// options looper passes to a pipeline.
type ArgumentComposer struct {
	logger Logger
}

func NewArgumentComposer(logger Logger) *ArgumentComposer {
	return &ArgumentComposer{logger: orNop(logger)}
}

// ComposeArgs returns "-O <results> [-C <config>] [-P <cores>] [-M <mem>]".
// pipelineKey is the exact key into the project's pipeline_config section.
// settings is copied first and never modified.
func (c *ArgumentComposer) ComposeArgs(pipelineKey string, settings models.SubmissionSettings, prj *models.Project) (string, error) {
	settings = settings.Clone()

	resultsDir, ok := prj.ResultsSubdir()
	if !ok {
		return "", &models.MissingMetadataError{Key: models.ResultsSubdirKey}
	}
	pairs := []optArg{{OutputDirOpt, resultsDir}}

	if prj.PipelineConfig == nil {
		c.logger.Debugf("Project lacks pipeline configuration")
	} else if configFile, ok := prj.PipelineConfig[pipelineKey]; !ok {
		c.logger.Debugf("No pipeline configuration: %s", pipelineKey)
	} else if configFile != "" {
		// An empty entry means no override.
		info, err := os.Stat(configFile)
		if err != nil || !info.Mode().IsRegular() {
			c.logger.Errorf("Pipeline config file specified but not found: %s", configFile)
			return "", &models.ConfigFileNotFoundError{Path: configFile}
		}
		c.logger.Infof("Found config file: %s", configFile)
		pairs = append(pairs, optArg{ConfigOpt, configFile})
	}

	cores, err := settingNumber(settings, coresSettingKey)
	if err != nil {
		return "", err
	}
	if math.IsNaN(cores) || math.IsInf(cores, 0) || math.Abs(cores) >= maxCores {
		return "", &models.InvalidSettingError{Key: coresSettingKey, Value: settings[coresSettingKey]}
	}
	if numCores := int(cores); numCores > 1 {
		pairs = append(pairs, optArg{CoresOpt, strconv.Itoa(numCores)})
	}

	if mem, ok := settings[memorySettingKey]; !ok {
		c.logger.Warnf("Submission settings lack memory specification")
	} else {
		memAlloc, err := settingNumber(settings, memorySettingKey)
		if err != nil {
			return "", err
		}
		if math.IsNaN(memAlloc) || math.IsInf(memAlloc, 0) {
			return "", &models.InvalidSettingError{Key: memorySettingKey, Value: mem}
		}
		if memAlloc > 1 {
			pairs = append(pairs, optArg{MemoryOpt, strings.TrimSpace(fmt.Sprint(mem))})
		}
	}

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.opt + " " + p.arg
	}
	return strings.Join(parts, " "), nil
}

// settingNumber reads a numeric setting; absent or nil values count as 0.
func settingNumber(settings models.SubmissionSettings, key string) (float64, error) {
	raw, ok := settings[key]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &models.InvalidSettingError{Key: key, Value: raw}
		}
		return f, nil
	default:
		return 0, &models.InvalidSettingError{Key: key, Value: raw}
	}
}
