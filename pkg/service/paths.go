package service

import (
	"path/filepath"

	"github.com/berguner/looper/pkg/models"
)

// SampleFolder returns the project's output folder for the given sample,
// <results_subdir>/<sample_name>.
func SampleFolder(prj *models.Project, sample models.Sample) (string, error) {
	root, ok := prj.ResultsSubdir()
	if !ok {
		return "", &models.MissingMetadataError{Key: models.ResultsSubdirKey}
	}
	name, ok := sample.Name()
	if !ok {
		return "", &models.InvalidSampleError{Reason: "missing " + models.SampleNameKey}
	}
	return filepath.Join(root, name), nil
}
