package core

// Logger is any service that can report application logs and errors.
// Implementations may inspect args for an error or a user value to enrich
// the report.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
