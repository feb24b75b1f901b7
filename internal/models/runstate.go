package models

import "time"

// Run modes (§6 trigger_async, §4.5).
const (
	ModeFast      = "fast"
	ModeFull      = "full"
	ModeManual    = "manual"
	ModeScheduled = "scheduled"
)

// Known run-error tags (§7). RunError values not in this list use the
// internal:<short_tag> form for unexpected programming errors.
const (
	RunErrManualAbort    = "manual_abort"
	RunErrHeartbeatLost  = "heartbeat_lost"
	RunErrAlreadyRunning = "already_running"
)

// RunState is held in memory by the Run Controller (C5). Only its lock
// fields (request_id, mode, started_at, heartbeat_at) are persisted, as
// cache.LockState under run:lock, so a restarted process observes stale
// locks (§3, invariant v); the other fields are not persisted.
type RunState struct {
	RequestID       string    `json:"request_id"`
	Mode            string    `json:"mode"`
	StartedAt       time.Time `json:"started_at"`
	HeartbeatAt     time.Time `json:"heartbeat_at"`
	SelectedRegions []string  `json:"selected_regions"`
	TotalRegions    int       `json:"total_regions"`
	ProcessedRegions int      `json:"processed_regions"`
	AbortRequested  bool      `json:"abort_requested"`
	LastError       string    `json:"last_error,omitempty"`
	LastFinishedAt  *time.Time `json:"last_finished_at,omitempty"`
	Running         bool      `json:"running"`
}

// Snapshot returns a copy safe to hand to callers outside the controller's
// lock (status() projection, §6).
func (s RunState) Snapshot() RunState {
	selected := make([]string, len(s.SelectedRegions))
	copy(selected, s.SelectedRegions)
	s.SelectedRegions = selected
	return s
}
