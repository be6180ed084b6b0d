package main

import "time"

// SuperviseFlags override the [supervisor] and [metrics] config sections.
type SuperviseFlags struct {
	ConfigPath    string
	MetricsListen string
	NoSync        bool
}

type WorkerFlags struct {
	ConfigPath    string
	// Timeout bounds the work done for one interaction.
	Timeout       time.Duration
	MetricsListen string
}

type BlacklistFlags struct {
	ConfigPath string
	GroupID    string
}

type StatusFlags struct {
	ConfigPath string
	URL        string
	Timeout    time.Duration
	CACert     string
	Insecure   bool
}
