// Package common defines shared constants and sentinel errors used across
// the notesync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Remote adapter errors, classified by the sync orchestrator.
	ErrOffline          = errors.New("offline")
	ErrAuthExpired      = errors.New("credential expired or rejected")
	ErrPermissionDenied = errors.New("permission denied")
	ErrQuotaExceeded    = errors.New("remote quota exceeded")
	ErrVersionConflict  = errors.New("version conflict")

	// ErrSessionExpired is returned when a credential refresh was attempted
	// and failed; the owning application must re-authenticate.
	ErrSessionExpired = errors.New("session expired")

	// ErrSyncInProgress is returned when a forced sync is requested while a
	// pass is already running on this device.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrSyncPaused is returned when synchronization is paused after a quota
	// failure and has not been resumed by an explicit user action.
	ErrSyncPaused = errors.New("sync paused")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")
)
