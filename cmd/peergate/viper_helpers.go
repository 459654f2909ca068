package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Explicit flags win over viper config/env; unset flags fall through so
// config files and PEERGATE_* env vars still apply.
func flagOrViperString(cmd *cobra.Command, flagName, viperKey string) string {
	if cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetString(flagName)
		if err == nil {
			return v
		}
	}
	return viper.GetString(viperKey)
}

func flagOrViperInt(cmd *cobra.Command, flagName, viperKey string) int {
	if cmd.Flags().Changed(flagName) {
		v, err := cmd.Flags().GetInt(flagName)
		if err == nil {
			return v
		}
	}
	return viper.GetInt(viperKey)
}
