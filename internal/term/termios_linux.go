// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

//go:build linux

package term

import (
	"os"

	"golang.org/x/sys/unix"
)

func writeSilentPlatform(file *os.File, data []byte) (int, error) {
	fd := int(file.Fd())
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return file.Write(data)
	}
	original := *termios
	termios.Lflag &^= unix.ECHO
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return file.Write(data)
	}

	n, writeErr := file.Write(data)

	restore := original
	_ = unix.IoctlSetTermios(fd, unix.TCSETS, &restore)
	return n, writeErr
}
