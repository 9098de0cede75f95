package service_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/berguner/looper/pkg/models"
	"github.com/berguner/looper/pkg/service"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgumentComposer_ComposeArgs(t *testing.T) {
	configDir := t.TempDir()
	rnaseqConfig := touch(t, filepath.Join(configDir, "rnaseq.yaml"))
	missingConfig := filepath.Join(configDir, "absent.yaml")

	tests := []struct {
		name           string
		pipelineConfig map[string]string
		settings       models.SubmissionSettings
		expected       string
		expectedErr    error
	}{
		{
			name:     "Cores and memory",
			settings: models.SubmissionSettings{"cores": 4, "mem": 8},
			expected: "-O /out -P 4 -M 8",
		},
		{
			name:     "Values not above one are omitted",
			settings: models.SubmissionSettings{"cores": 1, "mem": 0.5},
			expected: "-O /out",
		},
		{
			name:     "Missing cores and memory",
			settings: models.SubmissionSettings{},
			expected: "-O /out",
		},
		{
			name:     "Nil settings",
			settings: nil,
			expected: "-O /out",
		},
		{
			name:     "Numeric strings",
			settings: models.SubmissionSettings{"cores": "8", "mem": "16000"},
			expected: "-O /out -P 8 -M 16000",
		},
		{
			name:     "Fractional cores are truncated",
			settings: models.SubmissionSettings{"cores": 2.9, "mem": 1.5},
			expected: "-O /out -P 2 -M 1.5",
		},
		{
			name:     "Unrelated settings are ignored",
			settings: models.SubmissionSettings{"cores": 2, "time": "02:00:00", "partition": "longq"},
			expected: "-O /out -P 2",
		},
		{
			name:           "Config file override",
			pipelineConfig: map[string]string{"rnaseq": rnaseqConfig},
			settings:       models.SubmissionSettings{"cores": 4, "mem": 8},
			expected:       "-O /out -C " + rnaseqConfig + " -P 4 -M 8",
		},
		{
			name:           "Empty config entry means no override",
			pipelineConfig: map[string]string{"rnaseq": ""},
			settings:       models.SubmissionSettings{"cores": 4, "mem": 8},
			expected:       "-O /out -P 4 -M 8",
		},
		{
			name:           "Config for another pipeline",
			pipelineConfig: map[string]string{"atac": missingConfig},
			settings:       models.SubmissionSettings{"cores": 4, "mem": 8},
			expected:       "-O /out -P 4 -M 8",
		},
		{
			name:           "Missing config file",
			pipelineConfig: map[string]string{"rnaseq": missingConfig},
			settings:       models.SubmissionSettings{"cores": 4, "mem": 8},
			expectedErr:    models.ErrConfigFileNotFound,
		},
		{
			name:           "Config path is a directory",
			pipelineConfig: map[string]string{"rnaseq": configDir},
			settings:       models.SubmissionSettings{"cores": 4},
			expectedErr:    models.ErrConfigFileNotFound,
		},
		{
			name:        "Non-numeric cores",
			settings:    models.SubmissionSettings{"cores": "many", "mem": 8},
			expectedErr: models.ErrInvalidSetting,
		},
		{
			name:        "Infinite cores",
			settings:    models.SubmissionSettings{"cores": math.Inf(1), "mem": 8},
			expectedErr: models.ErrInvalidSetting,
		},
		{
			name:        "Cores beyond int range",
			settings:    models.SubmissionSettings{"cores": 1e19, "mem": 8},
			expectedErr: models.ErrInvalidSetting,
		},
		{
			name:        "NaN cores",
			settings:    models.SubmissionSettings{"cores": "NaN", "mem": 8},
			expectedErr: models.ErrInvalidSetting,
		},
		{
			name:        "Infinite memory",
			settings:    models.SubmissionSettings{"cores": 2, "mem": "inf"},
			expectedErr: models.ErrInvalidSetting,
		},
		{
			name:        "Non-numeric memory",
			settings:    models.SubmissionSettings{"cores": 2, "mem": "8G"},
			expectedErr: models.ErrInvalidSetting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, _ := newTestLogger()
			composer := service.NewArgumentComposer(logger)
			prj := newProject("/out")
			prj.PipelineConfig = tt.pipelineConfig

			args, err := composer.ComposeArgs("rnaseq", tt.settings, prj)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Empty(t, args)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, args)
		})
	}
}

func TestArgumentComposer_MissingConfigNamesPath(t *testing.T) {
	logger, hook := newTestLogger()
	composer := service.NewArgumentComposer(logger)
	prj := newProject("/out")
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	prj.PipelineConfig = map[string]string{"rnaseq": missing}

	_, err := composer.ComposeArgs("rnaseq", models.SubmissionSettings{"cores": 2}, prj)
	var notFound *models.ConfigFileNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, missing, notFound.Path)
	assert.True(t, hasEntry(hook, logrus.ErrorLevel, "Pipeline config file specified but not found: "+missing))
}

func TestArgumentComposer_Logging(t *testing.T) {
	t.Run("Missing memory is a warning", func(t *testing.T) {
		logger, hook := newTestLogger()
		composer := service.NewArgumentComposer(logger)

		_, err := composer.ComposeArgs("rnaseq", models.SubmissionSettings{"cores": 2}, newProject("/out"))
		require.NoError(t, err)
		assert.True(t, hasEntry(hook, logrus.WarnLevel, "Submission settings lack memory specification"))
	})

	t.Run("Absent pipeline configuration is debug only", func(t *testing.T) {
		logger, hook := newTestLogger()
		composer := service.NewArgumentComposer(logger)

		_, err := composer.ComposeArgs("rnaseq", models.SubmissionSettings{"mem": 2}, newProject("/out"))
		require.NoError(t, err)
		assert.True(t, hasEntry(hook, logrus.DebugLevel, "Project lacks pipeline configuration"))
		for _, entry := range hook.AllEntries() {
			assert.NotEqual(t, logrus.WarnLevel, entry.Level, entry.Message)
		}
	})

	t.Run("Absent pipeline key is debug only", func(t *testing.T) {
		logger, hook := newTestLogger()
		composer := service.NewArgumentComposer(logger)
		prj := newProject("/out")
		prj.PipelineConfig = map[string]string{}

		_, err := composer.ComposeArgs("rnaseq", models.SubmissionSettings{"mem": 2}, prj)
		require.NoError(t, err)
		assert.True(t, hasEntry(hook, logrus.DebugLevel, "No pipeline configuration: rnaseq"))
	})
}

func TestArgumentComposer_MissingResultsSubdir(t *testing.T) {
	composer := service.NewArgumentComposer(nil)
	prj := &models.Project{Metadata: map[string]string{"output_dir": "/out"}}

	_, err := composer.ComposeArgs("rnaseq", models.SubmissionSettings{"cores": 2}, prj)
	var missing *models.MissingMetadataError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, models.ResultsSubdirKey, missing.Key)
}

func TestArgumentComposer_IdempotentAndNonMutating(t *testing.T) {
	composer := service.NewArgumentComposer(nil)
	prj := newProject("/out")
	settings := models.SubmissionSettings{
		"cores": 4,
		"mem":   8,
		"extra": map[string]interface{}{"queue": "standard"},
		"flags": []interface{}{"--verbose"},
	}
	original := models.SubmissionSettings{
		"cores": 4,
		"mem":   8,
		"extra": map[string]interface{}{"queue": "standard"},
		"flags": []interface{}{"--verbose"},
	}

	first, err := composer.ComposeArgs("rnaseq", settings, prj)
	require.NoError(t, err)
	second, err := composer.ComposeArgs("rnaseq", settings, prj)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	if diff := cmp.Diff(original, settings); diff != "" {
		t.Errorf("settings mutated (-want +got):\n%s", diff)
	}
	_, hasCores := settings["cores"]
	assert.True(t, hasCores)
}

func TestArgumentComposer_AbsentCoresIsNotAdded(t *testing.T) {
	composer := service.NewArgumentComposer(nil)
	settings := models.SubmissionSettings{"mem": 8}

	args, err := composer.ComposeArgs("rnaseq", settings, newProject("/out"))
	require.NoError(t, err)
	assert.Equal(t, "-O /out -M 8", args)
	_, hasCores := settings["cores"]
	assert.False(t, hasCores, "cores must not be defaulted into the caller's map")
}
