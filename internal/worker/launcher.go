package worker

import (
	"errors"
	"io"
	"log/slog"
	"time"
)

// DefaultKillTimeout bounds how long ForceKill waits for the process to be reaped
const DefaultKillTimeout = 2 * time.Second

// JobIDEnv is set in every worker process environment
const JobIDEnv = "LIVESTREAM_JOB_ID"

var (
	// ErrNoCommand is returned when the launcher has no worker command configured
	ErrNoCommand = errors.New("worker command is empty")

	// ErrAlreadyStarted is returned when Start is called twice on one handle
	ErrAlreadyStarted = errors.New("worker already started")

	// ErrKillTimeout is returned when a killed process was not reaped in time
	ErrKillTimeout = errors.New("worker not reaped after kill")
)

// LauncherConfig holds worker process launch configuration
type LauncherConfig struct {
	Logger      *slog.Logger
	Command     []string
	Dir         string
	Env         []string
	Stdout      io.Writer
	Stderr      io.Writer
	KillTimeout time.Duration
}

// Launcher creates handles that all run the same worker command
type Launcher struct {
	logger      *slog.Logger
	command     []string
	dir         string
	env         []string
	stdout      io.Writer
	stderr      io.Writer
	killTimeout time.Duration
}

// NewLauncher creates a new worker launcher
func NewLauncher(cfg *LauncherConfig) *Launcher {
	killTimeout := cfg.KillTimeout
	if killTimeout <= 0 {
		killTimeout = DefaultKillTimeout
	}

	return &Launcher{
		logger:      cfg.Logger,
		command:     append([]string(nil), cfg.Command...),
		dir:         cfg.Dir,
		env:         append([]string(nil), cfg.Env...),
		stdout:      cfg.Stdout,
		stderr:      cfg.Stderr,
		killTimeout: killTimeout,
	}
}

// NewHandle returns a handle in the Starting state
func (l *Launcher) NewHandle() *Handle {
	return newHandle(l)
}

// Command returns the configured worker command
func (l *Launcher) Command() []string {
	return append([]string(nil), l.command...)
}
