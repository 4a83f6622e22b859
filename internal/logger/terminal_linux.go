//go:build linux

package logger

// TCGETS is the ioctl number for getting terminal attributes on Linux.
const termiosRequest = 0x5401
