package cmd

// Shared defaults for launch and host commands, kept in one place so the
// launch, train and host paths agree on them.
const (
	// Server defaults
	DefaultReadyTimeoutSecs = 180
	DefaultServeHost        = "127.0.0.1"

	// Monitor defaults
	DefaultMonitorPort = 8090

	// Upstream server repository
	repoURL    = "https://github.com/NovaSky-AI/SkyRL.git"
	repoName   = "SkyRL"
	defaultRef = "main" // Can be a tag or branch
	serverPkg  = "tx"

	// State
	stateFileName = ".txctl_setup_state.json"
)
