package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/docurag/docurag/pkg/config"
)

type cliFlags struct {
	configPath  string
	interactive bool
	logLevel    string
}

func parseFlags() (*cliFlags, error) {
	flags := &cliFlags{}
	flag.StringVar(&flags.configPath, "config", "", "Path to a config file (default: ./docurag.yaml)")
	flag.BoolVar(&flags.interactive, "interactive", true, "Run the interactive prompt")
	flag.StringVar(&flags.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	version := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}
	return flags, nil
}

// loadConfig layers a config file and DOCURAG_* environment variables
// over the defaults. A missing default config file is fine; an
// explicitly named one must exist.
func loadConfig(path string) (*config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCURAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(appName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/." + appName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := config.Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
