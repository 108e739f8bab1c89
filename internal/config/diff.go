package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the policy
// switches and the log level. Everything else requires a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	PolicyChanged       bool
	NewOffline          bool
	NewRedactBeforeSend bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldOffline, newOffline := old.Policy.OfflineEnabled(), new.Policy.OfflineEnabled()
	oldRedact, newRedact := old.Policy.RedactEnabled(), new.Policy.RedactEnabled()
	if oldOffline != newOffline || oldRedact != newRedact {
		d.PolicyChanged = true
	}
	d.NewOffline = newOffline
	d.NewRedactBeforeSend = newRedact

	return d
}
