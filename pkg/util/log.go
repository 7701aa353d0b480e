package util

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide diagnostic logger. User-facing progress goes
// through batch observers, not here.
var Logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(textFormatter())
	l.AddHook(redactHook{})
	return l
}

func textFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

// LogOptions configures Logger. Zero values keep the current setting,
// except JSON which always selects the formatter.
type LogOptions struct {
	Level  string
	JSON   bool
	Output io.Writer
}

// ConfigureLogging applies opts to Logger.
func ConfigureLogging(opts LogOptions) error {
	if opts.Level != "" {
		lvl, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		Logger.SetLevel(lvl)
	}
	if opts.JSON {
		Logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05Z07:00"})
	} else {
		Logger.SetFormatter(textFormatter())
	}
	if opts.Output != nil {
		Logger.SetOutput(opts.Output)
	}
	return nil
}

// SetLogOutput sets the log output destination
func SetLogOutput(w io.Writer) {
	Logger.SetOutput(w)
}

// redactHook masks fields whose names look like credentials, so a stray
// WithField("password", ...) never reaches the log.
type redactHook struct{}

func (redactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (redactHook) Fire(e *logrus.Entry) error {
	for k := range e.Data {
		if isSecretField(k) {
			e.Data[k] = "********"
		}
	}
	return nil
}

func isSecretField(name string) bool {
	name = strings.ToLower(name)
	for _, s := range []string{"password", "passphrase", "secret", "community", "token"} {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}

// WithFields returns a logger with multiple fields
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger.WithFields(fields)
}

// WithDevice scopes a logger to one device.
func WithDevice(device string) *logrus.Entry {
	return Logger.WithField("device", device)
}

// WithBatch scopes a logger to one batch run.
func WithBatch(batchID string) *logrus.Entry {
	return Logger.WithField("batch", batchID)
}

// WithSession scopes a logger to one device session.
func WithSession(device, transport string) *logrus.Entry {
	return Logger.WithFields(logrus.Fields{
		"device":    device,
		"transport": transport,
	})
}

// Debugf logs at debug level on Logger.
func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }

// Warnf logs at warn level on Logger.
func Warnf(format string, args ...interface{}) { Logger.Warnf(format, args...) }
