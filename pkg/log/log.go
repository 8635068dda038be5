// Package log centralizes structured logging for the plumber runtime.
//
// It wraps logrus the same way every other component in this module uses
// it: a *logrus.Entry per component, obtained once and carried around
// instead of calling the package-level logger from deep inside the
// scheduling hot path.
package log

import "github.com/sirupsen/logrus"

// Base is the process-wide logrus logger. Tests and cmd/plumberd may
// reconfigure its level/formatter; library code should never mutate it.
var Base = logrus.StandardLogger()

// WithComponent returns an entry tagged with the given component name,
// e.g. log.WithComponent("plumber"), log.WithComponent("vm-pool").
func WithComponent(component string) *logrus.Entry {
	return logrus.NewEntry(Base).WithField("component", component)
}

// SetLevel configures the minimum level logged process-wide.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Base.SetLevel(lvl)
	return nil
}

// SetJSON switches between text (default) and JSON formatting.
func SetJSON(enabled bool) {
	if enabled {
		Base.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	Base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
