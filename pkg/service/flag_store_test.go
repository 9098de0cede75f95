package service_test

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/berguner/looper/pkg/models"
	"github.com/berguner/looper/pkg/service"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineMatcher(t *testing.T) {
	tests := []struct {
		name     string
		names    []string
		filename string
		expected bool
	}{
		{"No names match everything", nil, "anything_completed.flag", true},
		{"Blank names are dropped", []string{" ", ""}, "anything_completed.flag", true},
		{"Exact prefix", []string{"rnaseq"}, "rnaseq_completed.flag", true},
		{"Variants sharing a prefix", []string{"rnaseq"}, "rnaseq_v2_running.flag", true},
		{"Other pipeline", []string{"rnaseq"}, "atacseq_completed.flag", false},
		{"Prefix, not substring", []string{"seq"}, "rnaseq_completed.flag", false},
		{"Any of several names", []string{"atac", "rnaseq"}, "rnaseq_failed.flag", true},
		{"Names are trimmed", []string{" rnaseq "}, "rnaseq_failed.flag", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := service.NewPipelineMatcher(tt.names...)
			assert.Equal(t, tt.expected, m.Match(tt.filename))
		})
	}

	t.Run("Names are deduplicated", func(t *testing.T) {
		m := service.NewPipelineMatcher("rnaseq", "atac", "rnaseq ")
		assert.Equal(t, []string{"rnaseq", "atac"}, m.Names())
	})
}

func TestFlagStore_SampleFlags(t *testing.T) {
	logger, _ := newTestLogger()
	store := service.NewFlagStore(logger)

	t.Run("Empty sample folder has no flags", func(t *testing.T) {
		root := t.TempDir()
		prj := newProject(root, "s1")
		mkdir(t, filepath.Join(root, "s1"))

		flags, err := store.SampleFlags(prj, prj.Samples[0])
		assert.NoError(t, err)
		assert.NotNil(t, flags)
		assert.Empty(t, flags)
	})

	t.Run("Missing sample folder is a precondition error", func(t *testing.T) {
		root := t.TempDir()
		prj := newProject(root, "s1")

		_, err := store.SampleFlags(prj, prj.Samples[0])
		var missing *models.MissingFolderError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, filepath.Join(root, "s1"), missing.Path)
		assert.ErrorIs(t, err, models.ErrPrecondition)
		_, isPrecondition := err.(models.PreconditionError)
		assert.True(t, isPrecondition)
	})

	t.Run("A file in place of the folder is missing too", func(t *testing.T) {
		root := t.TempDir()
		prj := newProject(root, "s1")
		touch(t, filepath.Join(root, "s1"))

		_, err := store.SampleFlags(prj, prj.Samples[0])
		assert.ErrorIs(t, err, models.ErrPrecondition)
	})

	t.Run("Only .flag files directly in the folder", func(t *testing.T) {
		root := t.TempDir()
		prj := newProject(root, "s1")
		folder := filepath.Join(root, "s1")
		touch(t, filepath.Join(folder, "rnaseq_completed.flag"))
		touch(t, filepath.Join(folder, "rnaseq_completed.flag.bak"))
		touch(t, filepath.Join(folder, "rnaseq_completed.flags"))
		touch(t, filepath.Join(folder, "rnaseq.log"))
		touch(t, filepath.Join(folder, "nested", "rnaseq_failed.flag"))
		mkdir(t, filepath.Join(folder, "odd_running.flag"))

		flags, err := store.SampleFlags(prj, prj.Samples[0])
		assert.NoError(t, err)
		assert.Equal(t, []string{filepath.Join(folder, "rnaseq_completed.flag")}, flags)
	})

	t.Run("Filters by pipeline prefix", func(t *testing.T) {
		root := t.TempDir()
		prj := newProject(root, "s1")
		folder := filepath.Join(root, "s1")
		touch(t, filepath.Join(folder, "rnaseq_completed.flag"))
		touch(t, filepath.Join(folder, "rnaseq_v2_running.flag"))
		touch(t, filepath.Join(folder, "atac_failed.flag"))

		flags, err := store.SampleFlags(prj, prj.Samples[0], "rnaseq")
		require.NoError(t, err)
		sort.Strings(flags)
		assert.Equal(t, []string{
			filepath.Join(folder, "rnaseq_completed.flag"),
			filepath.Join(folder, "rnaseq_v2_running.flag"),
		}, flags)

		flags, err = store.SampleFlags(prj, prj.Samples[0], "atac", "rnaseq_v2")
		require.NoError(t, err)
		sort.Strings(flags)
		assert.Equal(t, []string{
			filepath.Join(folder, "atac_failed.flag"),
			filepath.Join(folder, "rnaseq_v2_running.flag"),
		}, flags)

		flags, err = store.SampleFlags(prj, prj.Samples[0])
		require.NoError(t, err)
		assert.Len(t, flags, 3)
	})

	t.Run("Unreadable folder is not a missing folder", func(t *testing.T) {
		root := t.TempDir()
		name := strings.Repeat("s", 300)
		prj := newProject(root, name)

		_, err := store.SampleFlags(prj, prj.Samples[0])
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrPrecondition)

		_, err = store.SampleStatus(prj, prj.Samples[0], "rnaseq")
		assert.Error(t, err, "a folder that cannot be read must not count as never ran")
	})

	t.Run("Metadata errors propagate", func(t *testing.T) {
		prj := &models.Project{Samples: []models.Sample{{models.SampleNameKey: "s1"}}}
		_, err := store.SampleFlags(prj, prj.Samples[0])
		assert.ErrorIs(t, err, models.ErrMissingMetadata)
	})
}

func TestFlagStore_SampleStatus(t *testing.T) {
	t.Run("Never ran when the folder is missing", func(t *testing.T) {
		logger, _ := newTestLogger()
		store := service.NewFlagStore(logger)
		prj := newProject(t.TempDir(), "s1")

		state, err := store.SampleStatus(prj, prj.Samples[0], "rnaseq")
		require.NoError(t, err)
		assert.False(t, state.HasFlag())
		assert.Equal(t, models.FlagStatus(""), state.Status())
		assert.Equal(t, "s1", state.Sample)
		assert.Equal(t, "rnaseq", state.Pipeline)
	})

	t.Run("Single flag", func(t *testing.T) {
		logger, _ := newTestLogger()
		store := service.NewFlagStore(logger)
		root := t.TempDir()
		prj := newProject(root, "s1")
		touch(t, filepath.Join(root, "s1", "rnaseq_running.flag"))
		touch(t, filepath.Join(root, "s1", "atac_failed.flag"))

		state, err := store.SampleStatus(prj, prj.Samples[0], "rnaseq")
		require.NoError(t, err)
		require.True(t, state.HasFlag())
		assert.Equal(t, models.RunningFlagStatus, state.Status())
		assert.Equal(t, "rnaseq", state.Current.Pipeline)
		assert.False(t, state.Ambiguous())
	})

	t.Run("Newest flag wins and the rest are conflicts", func(t *testing.T) {
		logger, hook := newTestLogger()
		store := service.NewFlagStore(logger)
		root := t.TempDir()
		prj := newProject(root, "s1")
		old := touch(t, filepath.Join(root, "s1", "rnaseq_running.flag"))
		newest := touch(t, filepath.Join(root, "s1", "rnaseq_completed.flag"))
		base := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(old, base, base))
		require.NoError(t, os.Chtimes(newest, base.Add(time.Minute), base.Add(time.Minute)))

		state, err := store.SampleStatus(prj, prj.Samples[0], "rnaseq")
		require.NoError(t, err)
		assert.Equal(t, models.CompletedFlagStatus, state.Status())
		require.True(t, state.Ambiguous())
		require.Len(t, state.Conflicts, 1)
		assert.Equal(t, old, state.Conflicts[0].Path)
		assert.Equal(t, models.RunningFlagStatus, state.Conflicts[0].Status)
		assert.True(t, hasEntry(hook, logrus.WarnLevel,
			"Sample s1 has 2 flags for pipeline rnaseq; using "+newest))
	})

	t.Run("Equal mod times fall back to the greatest path", func(t *testing.T) {
		logger, _ := newTestLogger()
		store := service.NewFlagStore(logger)
		root := t.TempDir()
		prj := newProject(root, "s1")
		stamp := time.Now().Add(-time.Hour).Truncate(time.Second)
		for _, name := range []string{"rnaseq_completed.flag", "rnaseq_waiting.flag", "rnaseq_failed.flag"} {
			p := touch(t, filepath.Join(root, "s1", name))
			require.NoError(t, os.Chtimes(p, stamp, stamp))
		}

		for i := 0; i < 3; i++ {
			state, err := store.SampleStatus(prj, prj.Samples[0], "rnaseq")
			require.NoError(t, err)
			assert.Equal(t, models.WaitingFlagStatus, state.Status())
			require.Len(t, state.Conflicts, 2)
			assert.Equal(t, models.FailedFlagStatus, state.Conflicts[0].Status)
			assert.Equal(t, models.CompletedFlagStatus, state.Conflicts[1].Status)
		}
	})

	t.Run("Unparseable flags are ignored", func(t *testing.T) {
		logger, _ := newTestLogger()
		store := service.NewFlagStore(logger)
		root := t.TempDir()
		prj := newProject(root, "s1")
		touch(t, filepath.Join(root, "s1", "rnaseq_exploded.flag"))

		state, err := store.SampleStatus(prj, prj.Samples[0], "rnaseq")
		require.NoError(t, err)
		assert.False(t, state.HasFlag())
	})

	t.Run("Sample without a name", func(t *testing.T) {
		store := service.NewFlagStore(nil)
		prj := newProject(t.TempDir())
		_, err := store.SampleStatus(prj, models.Sample{}, "rnaseq")
		assert.ErrorIs(t, err, models.ErrInvalidSample)
	})
}
