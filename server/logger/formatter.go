package logger

import (
	"fmt"
	"sort"
	"strings"
)

// Formatter turns a Message into bytes ready for transport.
type Formatter interface {
	Format(message Message) ([]byte, error)
}

const defaultDateLayout = "2006-01-02T15:04:05.000000Z07:00"

// StringFormatter is the default human-readable formatter.
type StringFormatter struct {
	dateLayout string
}

var _ Formatter = StringFormatter{}

type StringFormatterParams struct {
	// DateLayout is passed to time.Time.Format for the entry timestamp.
	DateLayout string
}

func NewStringFormatter(params StringFormatterParams) StringFormatter {
	if params.DateLayout == "" {
		params.DateLayout = defaultDateLayout
	}

	return StringFormatter{
		dateLayout: params.DateLayout,
	}
}

// Format implements Formatter.
func (f StringFormatter) Format(message Message) ([]byte, error) {
	var b strings.Builder

	b.WriteString(message.Timestamp.Format(f.dateLayout))
	fmt.Fprintf(&b, " %5s [%20s] %s", message.Level, message.Namespace, message.Body)

	keys := make([]string, 0, len(message.Ctx))

	for k := range message.Ctx {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%+v", k, message.Ctx[k])
	}

	b.WriteString("\n")

	return []byte(b.String()), nil
}
