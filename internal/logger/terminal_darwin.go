//go:build darwin

package logger

import "syscall"

// macOS uses TIOCGETA to fetch terminal attributes.
const termiosRequest = syscall.TIOCGETA
