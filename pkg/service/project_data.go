package service

import "github.com/berguner/looper/pkg/models"

// SampleIndependentData projects the sections of prj that a sample may
// carry without knowing about other samples. Absent sections are skipped.
func SampleIndependentData(prj *models.Project, logger Logger) map[string]interface{} {
	data := map[string]interface{}{}
	if prj == nil {
		return data
	}
	logger = orNop(logger)
	for _, section := range models.SampleIndependentSections {
		value, ok := prj.Sections[section]
		if !ok {
			logger.Debugf("Project lacks section '%s', skipping", section)
			continue
		}
		data[section] = value
	}
	return data
}
