//go:build windows

package main

import (
	"os"
	"os/exec"
)

// daemonize on Windows has no setsid equivalent; it starts a detached child
// process with its own console instead.
func daemonize(args []string) (*os.Process, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(exe, append(args, "--foreground")...)
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}
