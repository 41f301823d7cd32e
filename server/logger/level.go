package logger

// Level defines the logging level.
type Level int

const (
	// LevelDisabled disables logging entirely.
	LevelDisabled Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

// String returns a string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelTrace:
		return "trace"
	case LevelDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// LevelFromString parses a level name. The second return value is false when
// the name is not recognized.
func LevelFromString(name string) (Level, bool) {
	switch name {
	case "error":
		return LevelError, true
	case "warn":
		return LevelWarn, true
	case "info":
		return LevelInfo, true
	case "debug":
		return LevelDebug, true
	case "trace":
		return LevelTrace, true
	case "disabled":
		return LevelDisabled, true
	default:
		return LevelDisabled, false
	}
}
