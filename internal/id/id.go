// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

// Package id generates opaque identifiers for shell sessions.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"io"
)

// New returns a random 32-character hex id from crypto/rand.
func New() (string, error) {
	b := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
