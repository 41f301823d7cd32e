package logger

import "strings"

// Config resolves the enabled logging level for a namespace.
type Config interface {
	LevelForNamespace(namespace string) Level
}

// ConfigMap maps namespaces to levels. The empty key configures the root
// namespace. A lookup first tries the full namespace, then its last
// segment, then the root entry.
type ConfigMap map[string]Level

var _ Config = ConfigMap(nil)

// NewConfigFromString parses a comma-separated list of namespace=level
// pairs, for example:
//
//	negotiator=debug,store:redis=trace,error
//
// An entry without "=" sets the root level.
func NewConfigFromString(s string) Config {
	if s == "" {
		return nil
	}

	ret := ConfigMap{}

	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		namespace := entry
		level := LevelInfo

		if index := strings.LastIndex(entry, "="); index > -1 {
			if parsed, ok := LevelFromString(entry[index+1:]); ok {
				level = parsed
				namespace = entry[:index]
			}
		} else if parsed, ok := LevelFromString(entry); ok {
			level = parsed
			namespace = ""
		}

		ret[namespace] = level
	}

	return ret
}

// LevelForNamespace implements Config.
func (c ConfigMap) LevelForNamespace(namespace string) Level {
	if level, ok := c[namespace]; ok {
		return level
	}

	if index := strings.LastIndex(namespace, ":"); index > -1 {
		if level, ok := c[namespace[index+1:]]; ok {
			return level
		}
	}

	return c[""]
}
