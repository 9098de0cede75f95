package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrPrecondition marks a call made with its preconditions unmet; retrying
	// without fixing them is pointless.
	ErrPrecondition       = errors.New("precondition failed")
	ErrConfigFileNotFound = errors.New("pipeline config file not found")
	ErrMissingMetadata    = errors.New("missing project metadata")
	ErrInvalidSample      = errors.New("invalid sample")
	ErrInvalidSetting     = errors.New("invalid submission setting")
	ErrUnknownFlagStatus  = errors.New("unknown flag status")
)

// PreconditionError is implemented by errors raised for unmet call preconditions.
type PreconditionError interface {
	error
	Precondition()
}

// MissingFolderError reports a sample folder that does not exist.
type MissingFolderError struct {
	Path string
}

func (e *MissingFolderError) Error() string {
	return fmt.Sprintf("missing sample folder: %s", e.Path)
}

func (e *MissingFolderError) Precondition() {}

func (e *MissingFolderError) Is(target error) bool { return target == ErrPrecondition }

// ArgumentConflictError reports mutually exclusive arguments given together, or none of them.
type ArgumentConflictError struct {
	Args []string
}

func (e *ArgumentConflictError) Error() string {
	return fmt.Sprintf("need exactly one of %v", e.Args)
}

func (e *ArgumentConflictError) Precondition() {}

func (e *ArgumentConflictError) Is(target error) bool { return target == ErrPrecondition }

// ConfigFileNotFoundError is raised when a pipeline config path is set but absent on disk.
type ConfigFileNotFoundError struct {
	Path string
}

func (e *ConfigFileNotFoundError) Error() string {
	return fmt.Sprintf("pipeline config file specified but not found: %s", e.Path)
}

func (e *ConfigFileNotFoundError) Is(target error) bool { return target == ErrConfigFileNotFound }

type MissingMetadataError struct {
	Key string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("project metadata lacks %q", e.Key)
}

func (e *MissingMetadataError) Is(target error) bool { return target == ErrMissingMetadata }

type InvalidSampleError struct {
	Reason string
}

func (e *InvalidSampleError) Error() string {
	return "invalid sample: " + e.Reason
}

func (e *InvalidSampleError) Is(target error) bool { return target == ErrInvalidSample }

// InvalidSettingError reports a submission setting that is not a number.
type InvalidSettingError struct {
	Key   string
	Value interface{}
}

func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("submission setting %q is not numeric: %v", e.Key, e.Value)
}

func (e *InvalidSettingError) Is(target error) bool { return target == ErrInvalidSetting }
