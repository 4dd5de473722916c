package node

import "time"

// Config holds launch settings shared by every node of a run.
type Config struct {
	// Bin is the interpreter or worker binary (java for a jar launch).
	Bin string

	// Jar is the worker jar. When empty, Bin is executed directly.
	Jar string

	// Xmx is the heap size passed as -Xmx for jar launches, e.g. "4g".
	Xmx string

	// JVMArgs are placed before -jar for jar launches.
	JVMArgs []string

	// ExtraArgs are appended after the worker arguments.
	ExtraArgs []string

	// IP is the address nodes are told to bind.
	IP string

	// BasePort is the first port of the deterministic port range.
	BasePort int

	// OutputDir receives node logs and flatfiles.
	OutputDir string

	// PollInterval is the sleep between log scrapes.
	PollInterval time.Duration

	// StopGrace bounds each phase of the graceful-then-forced shutdown.
	StopGrace time.Duration
}

// withDefaults fills zero-valued fields.
func (c Config) withDefaults() Config {
	if c.Bin == "" {
		c.Bin = DefaultBin
	}
	if c.IP == "" {
		c.IP = DefaultIP
	}
	if c.BasePort == 0 {
		c.BasePort = DefaultBasePort
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	return c
}
