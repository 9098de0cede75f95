package service_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/berguner/looper/pkg/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func newTestLogger() (*logrus.Logger, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	return logger, hook
}

func newProject(resultsDir string, names ...string) *models.Project {
	prj := &models.Project{
		Name:     "demo",
		Metadata: map[string]string{models.ResultsSubdirKey: resultsDir},
	}
	for _, name := range names {
		prj.Samples = append(prj.Samples, models.Sample{models.SampleNameKey: name, "protocol": "RNA-seq"})
	}
	return prj
}

// touch creates an empty file, making parent folders as needed.
func touch(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func mkdir(t *testing.T, path string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(path, 0o755))
	return path
}

func hasEntry(hook *logtest.Hook, level logrus.Level, message string) bool {
	for _, entry := range hook.AllEntries() {
		if entry.Level == level && entry.Message == message {
			return true
		}
	}
	return false
}
