package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/notesync/internal/flagx"
	"github.com/dmitrijs2005/notesync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "30s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	DatabasePath         string         `json:"database_path"`
	DebounceDelay        timex.Duration `json:"debounce_delay"`
	IdleSyncInterval     timex.Duration `json:"idle_sync_interval"`
	PeriodicSyncInterval timex.Duration `json:"periodic_sync_interval"`
	OnlineCheckInterval  timex.Duration `json:"online_check_interval"`
	StaleDeviceThreshold timex.Duration `json:"stale_device_threshold"`
	TransferConcurrency  int            `json:"transfer_concurrency"`
	MaxPassAttempts      int            `json:"max_pass_attempts"`
	RetryBaseDelay       timex.Duration `json:"retry_base_delay"`
	S3Bucket             string         `json:"s3_bucket"`
	S3Region             string         `json:"s3_region"`
	S3BaseEndpoint       string         `json:"s3_base_endpoint"`
	S3Prefix             string         `json:"s3_prefix"`
}

// parseJson overlays cfg with values loaded from a JSON file resolved via
// the -c/-config flags. Missing file path means no JSON stage. Zero values
// in the file leave the current (default) value untouched.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.DatabasePath, jc.DatabasePath)
	setDuration(&cfg.DebounceDelay, jc.DebounceDelay)
	setDuration(&cfg.IdleSyncInterval, jc.IdleSyncInterval)
	setDuration(&cfg.PeriodicSyncInterval, jc.PeriodicSyncInterval)
	setDuration(&cfg.OnlineCheckInterval, jc.OnlineCheckInterval)
	setDuration(&cfg.StaleDeviceThreshold, jc.StaleDeviceThreshold)
	setDuration(&cfg.RetryBaseDelay, jc.RetryBaseDelay)
	if jc.TransferConcurrency > 0 {
		cfg.TransferConcurrency = jc.TransferConcurrency
	}
	if jc.MaxPassAttempts > 0 {
		cfg.MaxPassAttempts = jc.MaxPassAttempts
	}
	setString(&cfg.S3Bucket, jc.S3Bucket)
	setString(&cfg.S3Region, jc.S3Region)
	setString(&cfg.S3BaseEndpoint, jc.S3BaseEndpoint)
	setString(&cfg.S3Prefix, jc.S3Prefix)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
