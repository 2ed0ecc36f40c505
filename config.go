// SPDX-License-Identifier: GPL-2.0-only

package main

import (
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultStateDir = "/var/lib/usbip-bridge"
	defaultListen   = ":8080"
)

// initConfig defines config flags, config file, and envs
func initConfig() error {
	cfgFile := flag.String("config", "", "Path to the config file.")
	flag.String("host", "", "The remote device host to manage.")
	flag.String("state-dir", defaultStateDir, "Directory holding the persistent state database.")
	flag.String("log-level", logLevelInfo, fmt.Sprintf("Log level to use. Possible values: %s", availableLogLevels))
	flag.String("listen", defaultListen, "The address at which to listen for health and metrics.")
	flag.Bool("once", false, "Build the device view once, print it, and exit.")

	flag.Parse()
	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		return fmt.Errorf("failed to bind config: %w", err)
	}

	if *cfgFile != "" {
		viper.SetConfigFile(*cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/usbip-bridge/")
		viper.AddConfigPath(".")
	}

	// The local sudo password is only accepted from the environment
	// (USBIP_BRIDGE_SUDO_PASSWORD) or the config file, never from argv.
	viper.SetDefault("sudo-password", "")

	viper.SetEnvPrefix("usbip_bridge")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error
		} else {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return nil
}
