package techaccess

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a technician job.
type Status string

const (
	// StatusAssigned is reserved for a two-step approval flow and is never
	// produced.
	StatusAssigned      Status = "ASSIGNED"
	StatusAccessGranted Status = "ACCESS_GRANTED"
	StatusTechAccess    Status = "TECH_ACCESS"
	StatusAccessExpired Status = "ACCESS_EXPIRED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAssigned, StatusAccessGranted, StatusTechAccess, StatusAccessExpired:
		return true
	}
	return false
}

// Open reports whether s counts toward the one-open-grant rule.
func (s Status) Open() bool {
	return s == StatusAccessGranted || s == StatusTechAccess
}

// AllowedMinutes are the grant lengths a homeowner may pick.
var AllowedMinutes = []int{30, 60, 90, 120}

// ValidMinutes reports whether m is one of AllowedMinutes.
func ValidMinutes(m int) bool {
	return slices.Contains(AllowedMinutes, m)
}

// Job is one technician access grant.
type Job struct {
	ID            string     `json:"job_id"`
	Homeowner     string     `json:"homeowner"`
	Technician    string     `json:"technician"`
	Status        Status     `json:"status"`
	AccessMinutes int        `json:"access_minutes"`
	Description   string     `json:"description"`
	GrantStart    time.Time  `json:"grant_start"`
	GrantExpires  time.Time  `json:"grant_expires"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty"`
	ExpiredAt     *time.Time `json:"expired_at,omitempty"`
}

// Live reports whether j is open and unexpired at now.
func (j *Job) Live(now time.Time) bool {
	return j.Status.Open() && j.GrantExpires.After(now)
}
