package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// dispatchLogger wraps a logging function for the dispatcher
type dispatchLogger struct {
	logFunc func(string, ...interface{})
}

func (d *dispatchLogger) log(format string, args ...interface{}) {
	d.logFunc(format, args...)
}

// setupDispatchLogger creates a rotating log file logger for the dispatcher
func setupDispatchLogger(logPath string) (*lumberjack.Logger, dispatchLogger) {
	maxSizeMB := getEnvInt("DEPOT_DISPATCH_LOG_MAX_SIZE", 10)
	maxBackups := getEnvInt("DEPOT_DISPATCH_LOG_MAX_BACKUPS", 3)
	maxAgeDays := getEnvInt("DEPOT_DISPATCH_LOG_MAX_AGE", 7)
	compress := getEnvBool("DEPOT_DISPATCH_LOG_COMPRESS", true)

	logF := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	}

	logger := dispatchLogger{
		logFunc: func(format string, args ...interface{}) {
			msg := fmt.Sprintf(format, args...)
			timestamp := time.Now().Format("2006-01-02 15:04:05")
			_, _ = fmt.Fprintf(logF, "[%s] %s\n", timestamp, msg)
		},
	}

	return logF, logger
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
