package main

import (
	"fmt"
	"os"

	"github.com/edgeflare/pgrest/pkg/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "pgrest",
	Short:         "pgrest compiles PostgREST-style queries to SQL",
	Long:          `pgrest parses PostgREST query strings, compiles them against resource descriptors and runs them on PostgreSQL`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		// flags override config
		if v := viper.GetString("rest.pg.connString"); v != "" {
			cfg.REST.PG.ConnString = v
		}
		if v := viper.GetString("rest.resourcesFile"); v != "" {
			cfg.REST.ResourcesFile = v
		}
		if cmd.Flags().Changed("log-level") || cfg.Log.Level == "" {
			cfg.Log.Level = logLevel
		}
		logger, err = newLogger(cfg.Log.Level)
		if err != nil {
			return err
		}
		if cfg.File != "" {
			logger.Debug("using config file", zap.String("file", cfg.File))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return nil
		}
		return cmd.Help()
	},
}

func Main() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgrest.yaml)")
	pf.StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	pf.StringP("rest.pg.connString", "c", "", "PostgreSQL connection string")
	pf.StringP("rest.resourcesFile", "r", "", "resource descriptor YAML file, introspect the database when empty")
	_ = viper.BindPFlag("rest.pg.connString", pf.Lookup("rest.pg.connString"))
	_ = viper.BindPFlag("rest.resourcesFile", pf.Lookup("rest.resourcesFile"))
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(compileCmd, readCmd, watchCmd)
}

// newLogger logs to stderr so command output stays parseable.
func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
