// Copyright 2026 The elfexec Authors.
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

//go:build !(linux && amd64)

package takeover

import (
	"golang.org/x/sys/unix"

	"github.com/elfexec/elfexec/pkg/elfimage"
)

// Exec returns ErrUnsupportedArch.
func (l *Loader) Exec(img *elfimage.Image, argv, envv []string) (unix.WaitStatus, error) {
	return 0, ErrUnsupportedArch
}

// LoaderCode returns ErrUnsupportedArch.
func LoaderCode() ([]byte, error) {
	return nil, ErrUnsupportedArch
}
