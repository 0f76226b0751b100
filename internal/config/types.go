package config

// Config is the full on-disk configuration. YAML and JSON are both accepted;
// YAML is coerced to JSON first so a single strict decoder handles both.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	X        XConfig        `json:"x"`
	Relay    RelayConfig    `json:"relay,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// AdminID receives crash/error notifications. 0 disables them.
	AdminID int64 `json:"admin_id,omitempty"`

	// PollTimeout is the long-poll timeout, a Go duration string. Default "10s".
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type XConfig struct {
	BearerToken string `json:"bearer_token"`

	// WatchUsers are X handles to monitor, without the @ prefix.
	WatchUsers []string `json:"watch_users"`

	// PollInterval is the fixed sleep between poll cycles. Default "30m".
	PollInterval string `json:"poll_interval,omitempty"`

	// BackfillWindow bounds the start_time query used on first run and as
	// the stale-cursor fallback. Defaults to PollInterval.
	BackfillWindow string `json:"backfill_window,omitempty"`
}

type RelayConfig struct {
	// SendGap is the pause between deliveries to successive subscribers.
	// Default "150ms".
	SendGap string `json:"send_gap,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/xrelay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // "file" or "sqlite"; default "file"
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only, Go duration string
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"` // DEBUG, INFO, WARN, ERROR

	// Console is a pointer so "omitted" (default true) is distinguishable
	// from an explicit false.
	Console *bool         `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}
