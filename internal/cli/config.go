package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"wasmproof.toml", "wp.toml"}

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server     string `toml:"server"`
	Repository string `toml:"repository,omitempty"`
	Package    string `toml:"package,omitempty"`
	Toolchain  string `toml:"toolchain,omitempty"`
	Dir        string `toml:"dir,omitempty"`
	Profile    string `toml:"profile,omitempty"`
}

// GlobalConfig is the global configuration (stored in ~/.wasmproof/config.yaml)
type GlobalConfig struct {
	Server string `yaml:"server"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var repository string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a wasmproof.toml configuration file in the current directory.

This file stores project-specific settings like the server URL, the
repository being verified and its default build parameters.

EXAMPLES:
  # Create config with default server
  wasmproof config init

  # Create config for a specific server
  wasmproof config init --server https://wasmproof.example.com

  # Overwrite existing config
  wasmproof config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(serverURL, repository, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")
	cmd.Flags().StringVar(&repository, "repo", "", "repository as owner/name")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration.

Shows both the local project config (wasmproof.toml) and the global config from ~/.wasmproof/config.yaml.

EXAMPLES:
  wasmproof config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}
}

func runConfigInit(serverURL, repository string, force bool) error {
	configPath := "wasmproof.toml"

	for _, cfgFile := range projectConfigFiles {
		if _, err := os.Stat(cfgFile); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", cfgFile)
		}
	}

	if repository == "" {
		cwd, err := os.Getwd()
		if err == nil {
			repository = filepath.Base(cwd)
		}
	}

	content := fmt.Sprintf(`# Wasmproof project configuration

server = "%s"
repository = "%s"

# Default build parameters for this repository
# package = "my_contract"
# toolchain = "1.84.1"
# dir = "contracts/my_contract"
# profile = "release"
`, serverURL, repository)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Server:     %s\n", serverURL)
	fmt.Printf("  Repository: %s\n", repository)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to set default build parameters\n", configPath)
	fmt.Println("  2. Run 'wasmproof auth login' to authenticate")
	fmt.Println("  3. Run 'wasmproof verify --repo owner/repo --sha <commit> ...' to verify")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	fmt.Println("1. Command line flags")
	fmt.Println("   --server, --api-key, --config")
	fmt.Println()

	fmt.Println("2. Environment variables")
	serverEnv := os.Getenv("WASMPROOF_SERVER")
	keyEnv := os.Getenv("WASMPROOF_API_KEY")
	if serverEnv != "" {
		fmt.Printf("   WASMPROOF_SERVER=%s\n", serverEnv)
	} else {
		fmt.Println("   WASMPROOF_SERVER=(not set)")
	}
	if keyEnv != "" {
		fmt.Printf("   WASMPROOF_API_KEY=%s\n", maskAPIKey(keyEnv))
	} else {
		fmt.Println("   WASMPROOF_API_KEY=(not set)")
	}
	fmt.Println()

	fmt.Println("3. Local project config (wasmproof.toml or wp.toml)")
	projectConfig, configPath, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		fmt.Printf("   Loaded from: %s\n", configPath)
		if projectConfig.Server != "" {
			fmt.Printf("   server: %s\n", projectConfig.Server)
		}
		if projectConfig.Repository != "" {
			fmt.Printf("   repository: %s\n", projectConfig.Repository)
		}
		if projectConfig.Package != "" {
			fmt.Printf("   package: %s\n", projectConfig.Package)
		}
		if projectConfig.Toolchain != "" {
			fmt.Printf("   toolchain: %s\n", projectConfig.Toolchain)
		}
		if projectConfig.Dir != "" {
			fmt.Printf("   dir: %s\n", projectConfig.Dir)
		}
		if projectConfig.Profile != "" {
			fmt.Printf("   profile: %s\n", projectConfig.Profile)
		}
	}
	fmt.Println()

	fmt.Println("4. Global config (~/.wasmproof/config.yaml)")
	globalPath := filepath.Join(credentialsDir(), "config.yaml")
	globalData, err := os.ReadFile(globalPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		var globalConfig GlobalConfig
		if err := yaml.Unmarshal(globalData, &globalConfig); err == nil {
			if globalConfig.Server != "" {
				fmt.Printf("   server: %s\n", globalConfig.Server)
			}
		}
	}
	fmt.Println()

	fmt.Println("5. Credentials (~/.wasmproof/credentials)")
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		if len(creds.Servers) == 0 {
			fmt.Println("   (no credentials stored)")
		} else {
			for server, cred := range creds.Servers {
				fmt.Printf("   %s: %s\n", server, maskAPIKey(cred.APIKey))
			}
		}
	}
	fmt.Println()

	fmt.Println("Effective configuration:")
	fmt.Printf("   Server:  %s\n", getServer())
	if key := getAPIKey(); key != "" {
		fmt.Printf("   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Println("   API Key: (not set)")
	}

	return nil
}

// loadProjectConfig loads the project config from the first matching config file.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	// If --config flag was provided, use that directly
	if cfgFile != "" {
		config, err := loadProjectConfigFromPath(cfgFile)
		if err != nil {
			return nil, cfgFile, err
		}
		return config, cfgFile, nil
	}

	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			config, err := loadProjectConfigFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return config, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Returns nil if the file doesn't exist, but returns errors for parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}
