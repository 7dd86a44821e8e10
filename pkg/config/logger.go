package config

import (
	"github.com/spf13/viper"

	"github.com/treeverse/snapvault/pkg/logging"
)

const (
	DefaultLoggingFormat = "text"
	DefaultLoggingLevel  = "INFO"
	DefaultLoggingOutput = "-"
)

func setupLogger() {
	// set output format
	logging.SetOutputFormat(viper.GetString(LoggingFormatKey))

	// set outputs
	err := logging.SetOutputs(viper.GetStringSlice(LoggingOutputKey),
		viper.GetInt(LoggingFileMaxSizeMBKey), viper.GetInt(LoggingFilesKeepKey))
	if err != nil {
		logging.Default().WithError(err).Error("Failed to setup logging output")
	}

	// set level
	logging.SetLevel(viper.GetString(LoggingLevelKey))
}
