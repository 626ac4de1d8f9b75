// Package log provides the leveled logging interface used throughout debategraph.
//
// Two implementations are provided: DefaultLogger, which writes through the
// standard library log package, and GologLogger, which wraps a
// github.com/kataras/golog logger and is what the debate CLI installs.
// NoOpLogger discards everything.
//
// A package-level logger is used by components that are not handed one
// explicitly:
//
//	log.SetDefaultLogger(log.NewGologLogger(golog.New()))
//	log.Info("session %s resumed at step %d", id, step)
//
// Levels, in increasing severity, are Debug, Info, Warn, Error and None.
// ParseLevel accepts their lower-case names, as used by configuration files
// and the --log-level flag.
package log
