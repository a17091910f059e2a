// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package allocation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// DurableLog records allocated asset names, one per line. Every mutation
// must be flushed to stable storage before it returns, so that a crash
// immediately after an allocation can never hand the same token out twice
// on restart.
type DurableLog interface {
	ReadAll(ctx context.Context) ([]string, error)
	Append(ctx context.Context, lines ...string) error
	Remove(ctx context.Context, lines ...string) error
}

type fileLog struct {
	path string
}

func newFileLog(path string) DurableLog {
	return &fileLog{path: path}
}

func (fl *fileLog) ReadAll(ctx context.Context) ([]string, error) {
	data, err := os.ReadFile(fl.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (fl *fileLog) Append(ctx context.Context, lines ...string) error {
	f, err := os.OpenFile(fl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err = f.WriteString(strings.Join(lines, "\n") + "\n"); err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Remove rewrites the log without the given lines, through a temp file and
// an atomic rename, so a crash mid-removal leaves either the old or the new
// log intact but never a torn one.
func (fl *fileLog) Remove(ctx context.Context, lines ...string) error {
	existing, err := fl.ReadAll(ctx)
	if err != nil {
		return err
	}
	drop := make(map[string]bool, len(lines))
	for _, line := range lines {
		drop[line] = true
	}
	var kept []string
	for _, line := range existing {
		if !drop[line] {
			kept = append(kept, line)
		}
	}

	tmpPath := fl.path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if len(kept) > 0 {
		_, err = f.WriteString(strings.Join(kept, "\n") + "\n")
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err = os.Rename(tmpPath, fl.path); err != nil {
		return err
	}
	return syncDir(filepath.Dir(fl.path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = d.Sync()
	if closeErr := d.Close(); err == nil {
		err = closeErr
	}
	return err
}
