package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	DispatchChanged bool
	NewDispatch     DispatchConfig

	DiscoveryChanged bool
	NewDiscovery     DiscoveryConfig

	SchedulerChanged bool
	NewScheduler     SchedulerConfig

	AgentChanged bool
	NewAgent     AgentConfig

	// Non-reloadable fields that changed (log warnings only)
	NonReloadable []string
}

// HasChanges reports whether any reloadable field changed.
func (d *ConfigDiff) HasChanges() bool {
	return d.DispatchChanged ||
		d.DiscoveryChanged ||
		d.SchedulerChanged ||
		d.AgentChanged
}

// Diff compares two configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if !reflect.DeepEqual(old.Dispatch, new.Dispatch) {
		d.DispatchChanged = true
		d.NewDispatch = new.Dispatch
	}
	if !reflect.DeepEqual(old.Discovery, new.Discovery) {
		d.DiscoveryChanged = true
		d.NewDiscovery = new.Discovery
	}
	if old.Scheduler.PollInterval != new.Scheduler.PollInterval {
		d.SchedulerChanged = true
		d.NewScheduler = new.Scheduler
	}
	if !reflect.DeepEqual(old.Agent, new.Agent) {
		d.AgentChanged = true
		d.NewAgent = new.Agent
	}

	// Non-reloadable warnings
	if old.Web.Port != new.Web.Port {
		d.NonReloadable = append(d.NonReloadable, "web.port")
	}
	if old.NATS.Port != new.NATS.Port {
		d.NonReloadable = append(d.NonReloadable, "nats.port")
	}
	if old.NATS.DataDir != new.NATS.DataDir {
		d.NonReloadable = append(d.NonReloadable, "nats.data_dir")
	}
	if old.Store.Path != new.Store.Path {
		d.NonReloadable = append(d.NonReloadable, "store.path")
	}
	if old.Vault.Passphrase != new.Vault.Passphrase {
		d.NonReloadable = append(d.NonReloadable, "vault.passphrase")
	}

	return d
}
