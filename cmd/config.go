package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"waggle/types"
)

const (
	configName = ".waggle"
	envPrefix  = "WAGGLE"
)

// GlobalAppConfig holds the global application configuration instance.
var GlobalAppConfig types.AppConfig

// validate is a single validator instance; it caches struct info.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// validateAppConfig performs validation on the AppConfig struct.
func validateAppConfig(config *types.AppConfig) error {
	return validate.Struct(config)
}

// InitConfig reads in config file and ENV variables if set.
func InitConfig() {
	// Load .env file first if present. It's okay if it doesn't exist.
	_ = godotenv.Load()

	viper.SetEnvPrefix(envPrefix) // e.g. WAGGLE_VERBOSE
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfgFileFlag := viper.GetString("config")

	potentialProjectConfigDir := viper.GetString("project.rootDir")
	if potentialProjectConfigDir == "" {
		potentialProjectConfigDir = ".waggle"
	}

	if cfgFileFlag != "" {
		viper.SetConfigFile(cfgFileFlag)
	} else {
		if _, err := os.Stat(potentialProjectConfigDir); !os.IsNotExist(err) {
			viper.AddConfigPath(potentialProjectConfigDir) // ./.waggle/.waggle.yaml
			viper.SetConfigName(configName)
		} else {
			home, err := os.UserHomeDir()
			cobra.CheckErr(err)
			viper.AddConfigPath(home) // $HOME/.waggle.yaml
			viper.AddConfigPath(".")  // ./.waggle.yaml
			viper.SetConfigName(configName)
		}
	}

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	} else {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if cfgFileFlag != "" {
				fmt.Fprintln(os.Stderr, "Error: Specified config file not found:", cfgFileFlag)
			} else if viper.GetBool("verbose") {
				fmt.Fprintln(os.Stderr, "No config file found. Using defaults and environment variables.")
			}
		} else {
			fmt.Fprintln(os.Stderr, "Error reading config file:", viper.ConfigFileUsed(), "-", err)
		}
	}

	setConfigDefaults()

	if err := viper.Unmarshal(&GlobalAppConfig); err != nil {
		fmt.Fprintln(os.Stderr, "Error unmarshalling config:", err)
		os.Exit(1)
	}
	if err := validateAppConfig(&GlobalAppConfig); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid configuration:", err)
		os.Exit(1)
	}
}

func setConfigDefaults() {
	viper.SetDefault("project.rootDir", ".waggle")
	viper.SetDefault("project.agentsDir", "agents")

	viper.SetDefault("board.file", "board.json")
	viper.SetDefault("board.format", "json")
	viper.SetDefault("board.lockTimeout", "5s")

	viper.SetDefault("checkpoint.intervalSeconds", 30)
	viper.SetDefault("checkpoint.staleAfterSeconds", 600)
	viper.SetDefault("checkpoint.keep", 20)

	viper.SetDefault("retry.maxRetries", 3)
	viper.SetDefault("retry.clearOnSuccess", true)
	viper.SetDefault("retry.persistRecords", false)
	viper.SetDefault("retry.baseBackoffMs", 2000)
	viper.SetDefault("retry.maxBackoffMs", 120000)
}

// GetConfig returns the loaded application configuration.
func GetConfig() *types.AppConfig {
	return &GlobalAppConfig
}
