package models

// PipelineSpec describes an external pipeline executable a sample can be submitted to.
type PipelineSpec struct {
	Key       string             `json:"key" yaml:"key"`                                 // Hook into the project's pipeline_config section
	Name      string             `json:"name" yaml:"name"`                               // Flag file prefix written by the pipeline
	Path      string             `json:"path" yaml:"path"`                               // Executable path
	Resources SubmissionSettings `json:"resources,omitempty" yaml:"resources,omitempty"` // Default resource request
}

// FlagPrefix returns the name flag files are matched against.
func (p PipelineSpec) FlagPrefix() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Key
}
