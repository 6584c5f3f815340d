/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package klog

import (
	"fmt"
	"log/syslog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/op/go-logging"
)

const (
	LoggerTypeConsole = "console"
	LoggerTypeFile    = "file"
	LoggerTypeSyslog  = "syslog"

	consoleFormat = `%{color} ▶ [%{level:.4s} %{id:05x}%{color:reset}] %{message}`
	fileFormat    = `[%{time:2006-01-02 15:04:05.000}] [%{level:.4s}] [%{id:05x}] %{message}`
)

// LoggerConfiguration describes one logging backend.
type LoggerConfiguration struct {
	Type    string
	Enabled bool
	Level   string
	File    string
}

var logLevels = map[string]logging.Level{
	"CRITICAL": logging.CRITICAL,
	"ERROR":    logging.ERROR,
	"WARNING":  logging.WARNING,
	"NOTICE":   logging.NOTICE,
	"INFO":     logging.INFO,
	"DEBUG":    logging.DEBUG,
}

var syslogLevels = map[string]syslog.Priority{
	"CRITICAL": syslog.LOG_CRIT,
	"ERROR":    syslog.LOG_ERR,
	"WARNING":  syslog.LOG_WARNING,
	"NOTICE":   syslog.LOG_NOTICE,
	"INFO":     syslog.LOG_INFO,
	"DEBUG":    syslog.LOG_DEBUG,
}

var logger = logging.MustGetLogger("kanoa")

func leveled(b logging.Backend, format, level string) logging.LeveledBackend {
	f := logging.NewBackendFormatter(b, logging.MustStringFormatter(format))
	l := logging.AddModuleLevel(f)
	l.SetLevel(logLevels[level], "")
	return l
}

func newBackend(module string, cfg LoggerConfiguration) (logging.Backend, error) {
	level := strings.ToUpper(cfg.Level)
	if _, ok := logLevels[level]; !ok {
		return nil, fmt.Errorf("unsupported log-level %q for %s logger", cfg.Level, cfg.Type)
	}

	switch cfg.Type {
	case LoggerTypeConsole:
		return leveled(logging.NewLogBackend(os.Stdout, "", 0), consoleFormat, level), nil
	case LoggerTypeFile:
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("unable to open log file %s: %w", cfg.File, err)
		}
		return leveled(logging.NewLogBackend(f, "", 0), fileFormat, level), nil
	case LoggerTypeSyslog:
		return logging.NewSyslogBackendPriority(module, syslogLevels[level])
	}

	return nil, fmt.Errorf("unsupported logger type %q", cfg.Type)
}

// Init sets up the logging sub-system for the named daemon. Invalid
// backends are reported on stderr and skipped.
func Init(name string, loggers []LoggerConfiguration) {
	logger = logging.MustGetLogger(name)

	backends := []logging.Backend{}
	for _, l := range loggers {
		if !l.Enabled {
			continue
		}
		b, err := newBackend(name, l)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		backends = append(backends, b)
	}

	logging.SetBackend(backends...)
}

func caller(msg string) string {
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return msg
	}

	filename := file[strings.LastIndex(file, "/")+1:] + ":" + strconv.Itoa(line)
	funcname := runtime.FuncForPC(pc).Name()
	fn := funcname[strings.LastIndex(funcname, ".")+1:]
	return fmt.Sprintf("[%s][%s()] %s", filename, fn, msg)
}

// Critical logs a message at CRITICAL level, prefixed with its call site.
func Critical(args ...any) {
	logger.Critical(caller(fmt.Sprint(args...)))
}

// Criticalf logs a formatted message at CRITICAL level, prefixed with its call site.
func Criticalf(format string, args ...any) {
	logger.Critical(caller(fmt.Sprintf(format, args...)))
}

// Error logs a message at ERROR level, prefixed with its call site.
func Error(args ...any) {
	logger.Error(caller(fmt.Sprint(args...)))
}

// Errorf logs a formatted message at ERROR level, prefixed with its call site.
func Errorf(format string, args ...any) {
	logger.Error(caller(fmt.Sprintf(format, args...)))
}

func Warning(args ...any) {
	logger.Warning(args...)
}

func Warningf(format string, args ...any) {
	logger.Warningf(format, args...)
}

func Notice(args ...any) {
	logger.Notice(args...)
}

func Noticef(format string, args ...any) {
	logger.Noticef(format, args...)
}

func Info(args ...any) {
	logger.Info(args...)
}

func Infof(format string, args ...any) {
	logger.Infof(format, args...)
}

func Debug(args ...any) {
	logger.Debug(args...)
}

func Debugf(format string, args ...any) {
	logger.Debugf(format, args...)
}

func Fatal(args ...any) {
	logger.Fatal(args...)
}

func Fatalf(format string, args ...any) {
	logger.Fatalf(format, args...)
}
