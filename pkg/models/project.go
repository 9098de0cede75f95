package models

const (
	// ResultsSubdirKey is the metadata key holding the per-project results root.
	ResultsSubdirKey = "results_subdir"
	// SampleNameKey is the sample attribute used as map key and folder name.
	SampleNameKey = "sample_name"
)

// SampleIndependentSections are the project sections a sample may carry
// along for post-hoc analysis without knowing about any other sample.
var SampleIndependentSections = []string{
	"metadata",
	"derived_columns",
	"implied_columns",
	"trackhubs",
}

// Project groups samples under a shared results root.
type Project struct {
	Name           string                 `json:"name" yaml:"name"`
	Metadata       map[string]string      `json:"metadata" yaml:"metadata"`                                   // results_subdir, output_dir, ...
	PipelineConfig map[string]string      `json:"pipeline_config,omitempty" yaml:"pipeline_config,omitempty"` // nil when the section is absent
	Pipelines      []PipelineSpec         `json:"pipelines,omitempty" yaml:"pipelines,omitempty"`
	Samples        []Sample               `json:"samples" yaml:"samples"`
	Sections       map[string]interface{} `json:"-" yaml:"-"` // raw top-level sections as loaded
}

// ResultsSubdir returns the results root and whether it is set.
func (p *Project) ResultsSubdir() (string, bool) {
	if p == nil {
		return "", false
	}
	dir, ok := p.Metadata[ResultsSubdirKey]
	return dir, ok && dir != ""
}

// Sample is a flat record of sample attributes.
type Sample map[string]string

// Name returns the sample name and whether it is present.
func (s Sample) Name() (string, bool) {
	name, ok := s[SampleNameKey]
	return name, ok && name != ""
}
