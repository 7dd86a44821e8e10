package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/treeverse/snapvault/pkg/block"
	"github.com/treeverse/snapvault/pkg/block/factory"
	"github.com/treeverse/snapvault/pkg/config"
	"github.com/treeverse/snapvault/pkg/logging"
	"github.com/treeverse/snapvault/pkg/repository"
	"github.com/treeverse/snapvault/pkg/version"
)

var (
	cfgFile     string
	repoAddress string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "snapvault",
	Short:   "snapvault snapshots segment file stores into shared blob storage",
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var initOnce sync.Once

//nolint:gochecknoinits
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $HOME/.snapvault.yaml)")
	rootCmd.PersistentFlags().StringVarP(&repoAddress, "repository", "r", "", "repository address, overrides the configured blockstore (e.g. s3://bucket/backups)")
}

func loadConfig() *config.Config {
	initOnce.Do(initConfig)
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Println("Failed to load config file", err)
		os.Exit(1)
	}
	return cfg
}

// openRepository loads the configuration, builds the configured block adapter
// and opens the repository on top of it. The caller owns Close.
func openRepository(ctx context.Context) *repository.Repository {
	cfg := loadConfig()
	var (
		adapter block.Adapter
		err     error
	)
	if repoAddress != "" {
		adapter, err = factory.BuildBlockAdapterFromAddress(ctx, cfg, repoAddress)
	} else {
		adapter, err = factory.BuildBlockAdapter(ctx, cfg)
	}
	if err != nil {
		DieFmt("Failed to create block adapter: %s", err)
	}
	return repository.New(adapter, cfg.RepositoryOptions()...)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	logger := logging.Default().WithField("phase", "startup")
	if cfgFile != "" {
		logger.WithField("file", cfgFile).Info("Configuration file")
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath(path.Join(getHomeDir(), ".snapvault"))
		viper.AddConfigPath("/etc/snapvault")
	}

	viper.SetEnvPrefix("SNAPVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // support nested config
	// read in environment variables
	viper.AutomaticEnv()

	// read configuration file
	err := viper.ReadInConfig()
	logger = logger.WithField("file", viper.ConfigFileUsed()) // should be called after SetConfigFile
	var errFileNotFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &errFileNotFound) {
		logger.WithError(err).Fatal("Failed to find a config file")
	}
	// fallback - try to load $HOME/.snapvault.yaml
	//   if err is set it will be file-not-found based on previous check
	if err != nil {
		fallbackCfgFile := path.Join(getHomeDir(), ".snapvault.yaml")
		if cfgFile != fallbackCfgFile {
			viper.SetConfigFile(fallbackCfgFile)
			logger = logger.WithField("file", viper.ConfigFileUsed()) // should be called after SetConfigFile
			err = viper.ReadInConfig()
			if err != nil && !os.IsNotExist(err) {
				logger.WithError(err).Fatal("Failed to read config file")
			}
		}
	}

	// a repository address on the command line stands in for a configured
	// blockstore section
	if repoAddress != "" {
		if loc, err := block.ParseLocation(repoAddress); err == nil {
			viper.SetDefault("blockstore.type", loc.StorageType.BlockstoreType())
		}
	}

	// setup config used by the executed command
	cfg, err := config.NewConfig()
	if err != nil {
		logger.WithError(err).Fatal("Load config")
	} else {
		logger.Info("Config loaded")
	}

	err = cfg.Validate()
	if err != nil {
		logger.WithError(err).Fatal("Invalid config")
	}

	logger.WithFields(cfg.ToLoggerFields()).Info("Config")
}

// getHomeDir find and return the home directory
func getHomeDir() string {
	home, err := homedir.Dir()
	if err != nil {
		fmt.Println("Get home directory -", err)
		os.Exit(1)
	}
	return home
}
