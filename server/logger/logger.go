package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/juju/errors"
)

// Logger is a leveled, namespaced structured logger. All With* methods
// return a new Logger and leave the receiver untouched, so a Logger can be
// shared freely between goroutines.
type Logger interface {
	Namespace() string
	IsLevelEnabled(level Level) bool

	WithCtx(Ctx) Logger
	WithConfig(Config) Logger
	WithFormatter(Formatter) Logger
	WithWriter(io.Writer) Logger
	WithNamespace(namespace string) Logger
	WithNamespaceAppended(namespace string) Logger

	Trace(message string, ctx Ctx)
	Debug(message string, ctx Ctx)
	Info(message string, ctx Ctx)
	Warn(message string, ctx Ctx)
	Error(message string, err error, ctx Ctx)
}

type logger struct {
	config    Config
	ctx       Ctx
	formatter Formatter
	namespace string
	writer    io.Writer
	writerMu  *sync.Mutex
}

var _ Logger = &logger{}

// New returns a Logger writing to stderr with all namespaces disabled. Use
// WithConfig to enable output.
func New() Logger {
	return &logger{
		config:    ConfigMap(nil),
		formatter: NewStringFormatter(StringFormatterParams{}),
		writer:    os.Stderr,
		writerMu:  &sync.Mutex{},
	}
}

// NewFromEnv returns a Logger configured from the environment variable key.
func NewFromEnv(key string) Logger {
	return New().WithConfig(NewConfigFromString(os.Getenv(key)))
}

func (l *logger) clone() *logger {
	clone := *l

	return &clone
}

func (l *logger) Namespace() string {
	return l.namespace
}

func (l *logger) IsLevelEnabled(level Level) bool {
	return level <= l.config.LevelForNamespace(l.namespace)
}

func (l *logger) WithCtx(ctx Ctx) Logger {
	clone := l.clone()
	clone.ctx = l.ctx.WithCtx(ctx)

	return clone
}

func (l *logger) WithConfig(config Config) Logger {
	if config == nil {
		return l
	}

	clone := l.clone()
	clone.config = config

	return clone
}

func (l *logger) WithFormatter(formatter Formatter) Logger {
	clone := l.clone()
	clone.formatter = formatter

	return clone
}

func (l *logger) WithWriter(writer io.Writer) Logger {
	clone := l.clone()
	clone.writer = writer
	clone.writerMu = &sync.Mutex{}

	return clone
}

func (l *logger) WithNamespace(namespace string) Logger {
	clone := l.clone()
	clone.namespace = namespace

	return clone
}

func (l *logger) WithNamespaceAppended(namespace string) Logger {
	if l.namespace != "" {
		namespace = l.namespace + ":" + namespace
	}

	return l.WithNamespace(namespace)
}

func (l *logger) log(level Level, body string, ctx Ctx) {
	if !l.IsLevelEnabled(level) {
		return
	}

	b, err := l.formatter.Format(Message{
		Timestamp: time.Now(),
		Namespace: l.namespace,
		Level:     level,
		Body:      body,
		Ctx:       l.ctx.WithCtx(ctx),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: format: %+v\n", err)

		return
	}

	l.writerMu.Lock()
	defer l.writerMu.Unlock()

	_, _ = l.writer.Write(b)
}

func (l *logger) Trace(message string, ctx Ctx) {
	l.log(LevelTrace, message, ctx)
}

func (l *logger) Debug(message string, ctx Ctx) {
	l.log(LevelDebug, message, ctx)
}

func (l *logger) Info(message string, ctx Ctx) {
	l.log(LevelInfo, message, ctx)
}

func (l *logger) Warn(message string, ctx Ctx) {
	l.log(LevelWarn, message, ctx)
}

func (l *logger) Error(message string, err error, ctx Ctx) {
	if err != nil {
		ctx = ctx.WithCtx(Ctx{"error": errors.ErrorStack(err)})
	}

	l.log(LevelError, message, ctx)
}
