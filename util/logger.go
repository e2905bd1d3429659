package util

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var currentLevel LogLevel = LogLevelInfo

func SetLevel(level LogLevel) {
	currentLevel = level
}

// ParseLevel maps a level name to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// UnmarshalYAML implements custom YAML unmarshaling for LogLevel
func (l *LogLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		*l = ParseLevel(s)
		return nil
	}

	var i int
	if err := value.Decode(&i); err != nil {
		return fmt.Errorf("log_level must be a string (debug/info/warn/error) or integer (0-3)")
	}
	*l = LogLevel(i)
	return nil
}

// UnmarshalJSON implements custom JSON unmarshaling for LogLevel
func (l *LogLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*l = ParseLevel(s)
		return nil
	}

	var i int
	if err := json.Unmarshal(data, &i); err != nil {
		return fmt.Errorf("log_level must be a string (debug/info/warn/error) or integer (0-3)")
	}
	*l = LogLevel(i)
	return nil
}

func Debug(format string, v ...interface{}) {
	if currentLevel <= LogLevelDebug {
		log.Printf("[DEBUG] "+format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if currentLevel <= LogLevelInfo {
		log.Printf("[INFO] "+format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if currentLevel <= LogLevelWarn {
		log.Printf("[WARN] "+format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if currentLevel <= LogLevelError {
		log.Printf("[ERROR] "+format, v...)
	}
}

func Fatal(format string, v ...interface{}) {
	log.Printf("[FATAL] "+format, v...)
	os.Exit(1)
}
