package logging

import (
	smithylogging "github.com/aws/smithy-go/logging"
)

// AWSAdapter exposes a Logger through the smithy-go logging interface so the
// AWS SDK's internal logging lands in our output.
type AWSAdapter struct {
	Logger Logger
}

func (l *AWSAdapter) Logf(classification smithylogging.Classification, format string, v ...interface{}) {
	switch classification {
	case smithylogging.Warn:
		l.Logger.Warnf(format, v...)
	default:
		l.Logger.Debugf(format, v...)
	}
}
