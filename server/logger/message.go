package logger

import "time"

// Message is a single log entry handed to the Formatter.
type Message struct {
	Timestamp time.Time
	Namespace string
	Level     Level
	Body      string
	Ctx       Ctx
}
