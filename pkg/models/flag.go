package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FlagExt is the extension every run status marker carries.
const FlagExt = ".flag"

type FlagStatus string

const (
	CompletedFlagStatus FlagStatus = "completed"
	RunningFlagStatus   FlagStatus = "running"
	FailedFlagStatus    FlagStatus = "failed"
	WaitingFlagStatus   FlagStatus = "waiting"
	PartialFlagStatus   FlagStatus = "partial"
)

// AllFlagStatuses returns every known status keyword in a fixed order.
func AllFlagStatuses() []FlagStatus {
	return []FlagStatus{
		CompletedFlagStatus,
		RunningFlagStatus,
		FailedFlagStatus,
		WaitingFlagStatus,
		PartialFlagStatus,
	}
}

// Valid reports whether s is one of the known status keywords.
func (s FlagStatus) Valid() bool {
	for _, known := range AllFlagStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Flag is a run status marker, decoded from its file name only.
type Flag struct {
	Path     string     `json:"path"`
	Pipeline string     `json:"pipeline"` // Prefix preceding the status keyword
	Status   FlagStatus `json:"status"`
	ModTime  time.Time  `json:"mod_time"`
}

// FlagIndex maps a flag kind to the paths of matching flag files.
type FlagIndex map[FlagStatus][]string

// ParseFlagName decodes "<pipeline>_<status>.flag". The directory part of
// name, if any, is kept as the flag's Path.
func ParseFlagName(name string) (Flag, error) {
	base := filepath.Base(name)
	if filepath.Ext(base) != FlagExt {
		return Flag{}, errors.Wrapf(ErrUnknownFlagStatus, "not a flag file: %s", base)
	}
	stem := strings.TrimSuffix(base, FlagExt)
	for _, status := range AllFlagStatuses() {
		if !strings.HasSuffix(stem, string(status)) {
			continue
		}
		pipeline := strings.TrimSuffix(stem, string(status))
		pipeline = strings.TrimRight(pipeline, "_")
		return Flag{Path: name, Pipeline: pipeline, Status: status}, nil
	}
	return Flag{}, errors.Wrapf(ErrUnknownFlagStatus, "flag file %s", base)
}
