package permission

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Checker decides whether the current user may read recorded usage.
type Checker struct {
	dbPath  string
	geteuid func() int
}

func NewChecker(dbPath string) *Checker {
	return &Checker{dbPath: dbPath, geteuid: os.Geteuid}
}

// HasUsageAccess reports whether the usage store exists and is readable.
func (c *Checker) HasUsageAccess() bool {
	if c.dbPath == "" {
		return false
	}
	return unix.Access(c.dbPath, unix.R_OK) == nil
}

// CanCapture reports whether packet capture sources can be opened.
func (c *Checker) CanCapture() bool {
	return c.geteuid() == 0
}

func (c *Checker) DBPath() string {
	return c.dbPath
}

// Instructions explains how to grant usage access.
func (c *Checker) Instructions() string {
	return fmt.Sprintf(`Usage access is required to show per-app network usage.

The usage database %s is missing or not readable by this user.

  1. Start the recorder as root:   sudo datamonitor record
  2. Let it run for at least one interval so usage is recorded.
  3. Allow your user to read the database, e.g.
       sudo chgrp $(id -gn) %s && sudo chmod g+r %s

Press r to check again.`, c.dbPath, c.dbPath, c.dbPath)
}
