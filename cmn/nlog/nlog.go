// Package nlog is HERMES's process logger: leveled, timestamped, safe for
// concurrent use from every Broker/Node/Storage goroutine. A severity-
// leveled line logger, simplified down to what a single-process daemon
// needs (no log-file rotation: HERMES processes are short-lived per
// session).
/*
 * Copyright (c) 2024, HERMES authors. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

func (s severity) tag() string {
	switch s {
	case sevWarn:
		return "W"
	case sevErr:
		return "E"
	default:
		return "I"
	}
}

var (
	mu sync.Mutex
	out io.Writer = os.Stderr
	title string
	minSev = sevInfo
)

// SetOutput redirects all subsequent log lines; tests use this to capture
// output deterministically instead of scraping stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// SetTitle tags every line with a process identifier, e.g. the broker_id.
func SetTitle(s string) {
	mu.Lock()
	title = s
	mu.Unlock()
}

// SetQuiet suppresses Info-level output, keeping Warning/Error only.
func SetQuiet(quiet bool) {
	mu.Lock()
	if quiet {
		minSev = sevWarn
	} else {
		minSev = sevInfo
	}
	mu.Unlock()
}

func log(sev severity, format string, args...any) {
	mu.Lock()
	defer mu.Unlock()
	if sev < minSev {
		return
	}
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	if title != "" {
		fmt.Fprintf(out, "%s %s [%s] %s\n", sev.tag(), ts, title, msg)
		return
	}
	fmt.Fprintf(out, "%s %s %s\n", sev.tag(), ts, msg)
}

func Infof(format string, args...any) { log(sevInfo, format, args...) }
func Warningf(format string, args...any) { log(sevWarn, format, args...) }
func Errorf(format string, args...any) { log(sevErr, format, args...) }

func Infoln(args...any) { log(sevInfo, "%s", fmt.Sprintln(args...)) }
func Warningln(args...any) { log(sevWarn, "%s", fmt.Sprintln(args...)) }
func Errorln(args...any) { log(sevErr, "%s", fmt.Sprintln(args...)) }
