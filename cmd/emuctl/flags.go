package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	WorkDir    string // overrides work_dir from the config
	LogLevel   string
}

// Flag structs decouple cobra from the command logic for testing.

type DownloadFlags struct {
	URL    string
	Target string
	Kind   string
}

type EmulatorStartFlags struct {
	Instances       int
	Monitor         int
	Agents          int
	Collectives     int
	TLS             bool
	Credentials     string // base64
	CredentialsFile string // raw file, encoded before dispatch
	Name            string
	Servers         string
}

type NATSStartFlags struct {
	Port        int
	MonitorPort int
}

type FederationStartFlags struct {
	FederationServers string
	CollectiveServers string
	Name              string
	TLS               bool
}

// RemoteFlags select a running status server instead of the local work dir.
type RemoteFlags struct {
	APIUrl      string
	APITimeout  time.Duration
	APICA       string
	APIInsecure bool
}

type StatusFlags struct {
	RemoteFlags
	Kind string
	Port int
}

type HistoryFlags struct {
	RemoteFlags
	Limit int
}

type ServeFlags struct {
	Listen    string
	BasePath  string
	Daemonize bool
	PidFile   string
	LogFile   string
	// For tests: start, then shut down right away
	NonBlocking bool
}
