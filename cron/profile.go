package cron

import (
	"errors"
	"fmt"

	"github.com/xraph/taskrun/ledger"
)

// DefaultProfileType is used when a profile leaves ProfileType empty.
const DefaultProfileType = "cron"

var (
	// ErrUnknownProfile is returned by Fire for a profile name the scheduler
	// was not built with.
	ErrUnknownProfile = errors.New("taskrun/cron: unknown profile")

	// ErrInvalidProfile wraps every profile validation failure.
	ErrInvalidProfile = errors.New("taskrun/cron: invalid profile")
)

// Profile is one recurring schedule for a task.
type Profile struct {
	Name        string `json:"name" yaml:"name"`
	Schedule    string `json:"schedule" yaml:"schedule"`
	TaskName    string `json:"task" yaml:"task"`
	ProfileID   string `json:"profile_id" yaml:"profile_id"`
	ProfileType string `json:"profile_type" yaml:"profile_type"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}

// Identity returns the trigger identity fires of p are claimed under.
// ProfileID falls back to the profile name and ProfileType to "cron".
func (p Profile) Identity() ledger.TriggerIdentity {
	t := ledger.TriggerIdentity{
		TaskName:    p.TaskName,
		ProfileID:   p.ProfileID,
		ProfileType: p.ProfileType,
	}
	if t.ProfileID == "" {
		t.ProfileID = p.Name
	}
	if t.ProfileType == "" {
		t.ProfileType = DefaultProfileType
	}
	return t
}

// Validate checks the profile's fields and parses its schedule.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if p.TaskName == "" {
		return fmt.Errorf("%w: %s: task is required", ErrInvalidProfile, p.Name)
	}
	if _, err := ParseSchedule(p.Schedule); err != nil {
		return fmt.Errorf("%w: %s: schedule %q: %v", ErrInvalidProfile, p.Name, p.Schedule, err)
	}
	return nil
}
