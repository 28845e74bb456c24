package types

// AppConfig is the root configuration structure, populated by viper from
// config file, environment and flags.
type AppConfig struct {
	Verbose    bool             `mapstructure:"verbose"`
	Project    ProjectConfig    `mapstructure:"project" validate:"required"`
	Board      BoardConfig      `mapstructure:"board" validate:"required"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint" validate:"required"`
	Retry      RetryConfig      `mapstructure:"retry" validate:"required"`
}

// ProjectConfig locates the on-disk layout.
type ProjectConfig struct {
	// RootDir is the project-local directory holding everything the
	// substrate persists.
	RootDir string `mapstructure:"rootDir" validate:"required"`
	// AgentsDir, relative to RootDir, holds one directory per agent
	// (inbox/processed/archive/state).
	AgentsDir string `mapstructure:"agentsDir" validate:"required"`
}

// BoardConfig configures the shared task board file.
type BoardConfig struct {
	File        string `mapstructure:"file" validate:"required"`
	Format      string `mapstructure:"format" validate:"required,oneof=json yaml toml"`
	LockTimeout string `mapstructure:"lockTimeout" validate:"required"`
}

// CheckpointConfig configures checkpoint cadence and staleness detection.
type CheckpointConfig struct {
	IntervalSeconds   int `mapstructure:"intervalSeconds" validate:"min=1"`
	StaleAfterSeconds int `mapstructure:"staleAfterSeconds" validate:"min=1"`
	Keep              int `mapstructure:"keep" validate:"min=1"`
}

// RetryConfig configures the feedback engine.
type RetryConfig struct {
	MaxRetries     int  `mapstructure:"maxRetries" validate:"min=0"`
	ClearOnSuccess bool `mapstructure:"clearOnSuccess"`
	// PersistRecords makes failure records survive process restarts.
	PersistRecords bool `mapstructure:"persistRecords"`
	BaseBackoffMs  int  `mapstructure:"baseBackoffMs" validate:"min=1"`
	MaxBackoffMs   int  `mapstructure:"maxBackoffMs" validate:"min=1"`
}
