// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// secretsDir is where container runtimes mount secrets.
var secretsDir = "/run/secrets"

var memguardInitOnce sync.Once

// ErrMissingAPIKey is returned when neither the environment nor the secrets
// directory provides a key.
var ErrMissingAPIKey = errors.New("api key not configured")

// APIKey holds a provider credential encrypted in memory.
//
// # Description
//
// The plaintext only exists in a locked buffer for the duration of Use.
// The zero value is an empty key.
type APIKey struct {
	enclave *memguard.Enclave
}

// NewAPIKey seals key into an enclave. The input slice is wiped.
func NewAPIKey(key []byte) APIKey {
	initMemguard()
	if len(key) == 0 {
		return APIKey{}
	}
	return APIKey{enclave: memguard.NewEnclave(key)}
}

// Empty reports whether the key holds nothing.
func (k APIKey) Empty() bool {
	return k.enclave == nil
}

// Use opens the key, passes the plaintext to fn and destroys the buffer.
func (k APIKey) Use(fn func(key string) error) error {
	if k.enclave == nil {
		return ErrMissingAPIKey
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open api key enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// loadAPIKey reads envVar, falling back to /run/secrets/<secretName>.
func loadAPIKey(envVar, secretName string) (APIKey, error) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		return NewAPIKey([]byte(v)), nil
	}
	path := secretsDir + "/" + secretName
	content, err := os.ReadFile(path)
	if err != nil {
		return APIKey{}, fmt.Errorf("%w: %s not set and %s unreadable", ErrMissingAPIKey, envVar, path)
	}
	trimmed := []byte(strings.TrimSpace(string(content)))
	memguard.WipeBytes(content)
	if len(trimmed) == 0 {
		return APIKey{}, fmt.Errorf("%w: %s is empty", ErrMissingAPIKey, path)
	}
	slog.Info("Read API key from secrets", "secret", secretName)
	return NewAPIKey(trimmed), nil
}

// initMemguard installs the interrupt handler and reports the mlock limit.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		warnLowMlock()
	})
}
