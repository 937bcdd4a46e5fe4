package kfmt

// Logger emits single-line, module-tagged messages ("[vmm] ...") to the
// active output sink. The zero value logs under an empty tag; loggers are
// normally declared as package-level values so creating one never allocates.
type Logger struct {
	Module string
}

// Printf logs an informational message.
func (l *Logger) Printf(format string, args ...interface{}) {
	l.emit("", format, args...)
}

// Warnf logs a non-fatal anomaly.
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.emit("warning: ", format, args...)
}

// Errorf logs a failure that is also reported to the caller.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit("error: ", format, args...)
}

func (l *Logger) emit(level, format string, args ...interface{}) {
	Fprintf(outputSink, "[%s] %s", l.Module, level)
	Fprintf(outputSink, format, args...)
	writeByte(outputSink, '\n')
}
