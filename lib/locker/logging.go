package locker

import (
	"sync/atomic"

	"github.com/lni/dragonboat/v4/logger"
)

// prefixedLogger prepends "[Locker|<name>] " to every line of the shared
// "locker" logger. Debug and info lines are dropped unless debug output is
// enabled for this locker; lockers sharing a name do not share the flag.
type prefixedLogger struct {
	prefix string
	log    logger.ILogger
	debug  atomic.Bool
}

var _ logger.ILogger = (*prefixedLogger)(nil)

func newPrefixedLogger(name string, debug bool) *prefixedLogger {
	l := &prefixedLogger{
		prefix: "[Locker|" + name + "] ",
		log:    logger.GetLogger("locker"),
	}
	l.setDebug(debug)
	return l
}

// setDebug switches between DEBUG and WARNING output of this locker.
// Enabling it raises the shared logger to DEBUG, it is never lowered here.
func (l *prefixedLogger) setDebug(on bool) {
	l.debug.Store(on)
	if on {
		l.log.SetLevel(logger.DEBUG)
	}
}

func (l *prefixedLogger) SetLevel(level logger.LogLevel) {
	l.log.SetLevel(level)
}

func (l *prefixedLogger) Debugf(format string, args ...interface{}) {
	if l.debug.Load() {
		l.log.Debugf(l.prefix+format, args...)
	}
}

func (l *prefixedLogger) Infof(format string, args ...interface{}) {
	if l.debug.Load() {
		l.log.Infof(l.prefix+format, args...)
	}
}

func (l *prefixedLogger) Warningf(format string, args ...interface{}) {
	l.log.Warningf(l.prefix+format, args...)
}

func (l *prefixedLogger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(l.prefix+format, args...)
}

func (l *prefixedLogger) Panicf(format string, args ...interface{}) {
	l.log.Panicf(l.prefix+format, args...)
}
