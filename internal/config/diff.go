package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is set when server.log_level changed; the new level can
	// be applied without a restart.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VisitChanged is set when the visit pipeline tuning changed. New values
	// take effect for the next recording session.
	VisitChanged bool
	NewVisit     VisitConfig

	// RestartRequired is set when a change cannot be hot-applied: server
	// address or TLS, database connection, provider selection, or audio
	// capture settings.
	RestartRequired bool
}

// Changed reports whether the diff carries any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.VisitChanged || d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Visit != new.Visit {
		d.VisitChanged = true
		d.NewVisit = new.Visit
	}

	if serverRestartNeeded(old.Server, new.Server) ||
		old.Database != new.Database ||
		providersChanged(old.Providers, new.Providers) ||
		audioChanged(old.Audio, new.Audio) {
		d.RestartRequired = true
	}

	return d
}

// serverRestartNeeded ignores log_level, which is hot-applied.
func serverRestartNeeded(old, new ServerConfig) bool {
	if old.ListenAddr != new.ListenAddr {
		return true
	}
	switch {
	case old.TLS == nil && new.TLS == nil:
		return false
	case old.TLS == nil || new.TLS == nil:
		return true
	default:
		return *old.TLS != *new.TLS
	}
}

func providersChanged(old, new ProvidersConfig) bool {
	return entryChanged(old.LLM, new.LLM) ||
		entryChanged(old.STT, new.STT) ||
		entryChanged(old.Embeddings, new.Embeddings) ||
		entryChanged(old.LLMFallback, new.LLMFallback) ||
		entryChanged(old.STTFallback, new.STTFallback)
}

func entryChanged(old, new ProviderEntry) bool {
	if old.Name != new.Name || old.APIKey != new.APIKey ||
		old.BaseURL != new.BaseURL || old.Model != new.Model {
		return true
	}
	// Options values may be nested maps, so DeepEqual rather than ==.
	return !reflect.DeepEqual(old.Options, new.Options)
}

func audioChanged(old, new AudioConfig) bool {
	return old.Device != new.Device ||
		old.Command != new.Command ||
		!slices.Equal(old.Args, new.Args) ||
		old.SampleRate != new.SampleRate ||
		old.Channels != new.Channels ||
		old.SilenceStopSec != new.SilenceStopSec ||
		old.SilenceThreshold != new.SilenceThreshold
}
