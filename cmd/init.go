package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"waggle/internal/ui"
)

// initCmd creates the project-local directory layout.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the waggle directory layout in the current project",
	RunE: func(cmd *cobra.Command, args []string) error {
		config := GetConfig()
		dirs := []string{
			config.Project.RootDir,
			GetAgentsRoot(),
		}
		for _, dir := range dirs {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}

		// Touching the board through Initialize creates the empty task set
		// and its checksum.
		board, err := GetBoard()
		if err != nil {
			return err
		}
		defer func() { _ = board.Close() }()

		configPath := filepath.Join(config.Project.RootDir, configName+".yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0o644); err != nil {
				return fmt.Errorf("failed to write config file %s: %w", configPath, err)
			}
		}

		fmt.Println(ui.StyleSuccess.Render("✓") + " Initialized waggle project in " + config.Project.RootDir)
		return nil
	},
}

const defaultConfigYAML = `project:
  rootDir: .waggle
  agentsDir: agents
board:
  file: board.json
  format: json
  lockTimeout: 5s
checkpoint:
  intervalSeconds: 30
  staleAfterSeconds: 600
  keep: 20
retry:
  maxRetries: 3
  clearOnSuccess: true
  persistRecords: false
  baseBackoffMs: 2000
  maxBackoffMs: 120000
`

func init() {
	rootCmd.AddCommand(initCmd)
}
