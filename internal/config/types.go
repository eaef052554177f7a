package config

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Store   StoreConfig   `json:"store"`
	Logging LoggingConfig `json:"logging"`
	Guard   GuardConfig   `json:"guard"`
}

type DiscordConfig struct {
	Token string `json:"token"`

	// ModeratorRoleID is mentioned in the room-level fallback notice when a
	// direct warning to an evicted streamer cannot be delivered.
	ModeratorRoleID int64 `json:"moderator_role_id,omitempty"`
}

// StoreConfig controls the community-setup document store.
type StoreConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (e.g. "500ms", "5s").
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// GuardConfig tunes the stream-limit engine.
//
// Defaults (when fields are omitted/zero):
//   - sweep_interval: "10m"
//   - detect_batch_size: 10
//   - warn_rate_per_sec: 1
//   - cache_size: 128
type GuardConfig struct {
	// SweepInterval is a Go duration string; the pending-deletion sweep runs
	// on this fixed interval.
	SweepInterval string `json:"sweep_interval,omitempty"`

	// DetectBatchSize is how many rooms the detection loop processes before
	// yielding to the scheduler within one pass.
	DetectBatchSize int `json:"detect_batch_size,omitempty"`

	// WarnRatePerSec bounds outbound eviction warnings.
	WarnRatePerSec int `json:"warn_rate_per_sec,omitempty"`

	// CacheSize bounds the community-setup read cache (entries).
	CacheSize int `json:"cache_size,omitempty"`
}
