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

package takeover

import (
	"encoding/binary"
	"os"

	"github.com/elfexec/elfexec/pkg/abi/linux"
	"github.com/elfexec/elfexec/pkg/elfimage"
)

// forwardedAux lists the host auxv entries passed to the image unchanged.
// They describe the machine and the kernel mappings, which survive the
// takeover.
var forwardedAux = []uint64{
	linux.AT_SYSINFO_EHDR,
	linux.AT_HWCAP,
	linux.AT_HWCAP2,
	linux.AT_CLKTCK,
	linux.AT_MINSIGSTKSZ,
}

// parseAuxv decodes a native endian auxiliary vector up to AT_NULL.
func parseAuxv(b []byte) map[uint64]uint64 {
	m := make(map[uint64]uint64)
	for len(b) >= linux.AuxEntrySize {
		key := binary.NativeEndian.Uint64(b)
		val := binary.NativeEndian.Uint64(b[8:])
		if key == linux.AT_NULL {
			break
		}
		m[key] = val
		b = b[linux.AuxEntrySize:]
	}
	return m
}

// hostAuxv returns the auxiliary vector of the calling process.
func hostAuxv() (map[uint64]uint64, error) {
	b, err := os.ReadFile("/proc/self/auxv")
	if err != nil {
		return nil, err
	}
	return parseAuxv(b), nil
}

// imageAux returns the value carrying auxv entries for img: the forwarded
// host entries followed by the ones describing the image and the caller's
// credentials.
func imageAux(img *elfimage.Image, pageSize uint64, host map[uint64]uint64) []linux.AuxEntry {
	var aux []linux.AuxEntry
	for _, k := range forwardedAux {
		if v, ok := host[k]; ok {
			aux = append(aux, linux.AuxEntry{Key: k, Value: v})
		}
	}
	if phdr := img.PhdrAddr(); phdr != 0 {
		aux = append(aux, linux.AuxEntry{Key: linux.AT_PHDR, Value: phdr})
	}
	return append(aux,
		linux.AuxEntry{Key: linux.AT_PHENT, Value: linux.ELF64PhdrSize},
		linux.AuxEntry{Key: linux.AT_PHNUM, Value: uint64(len(img.Segments))},
		linux.AuxEntry{Key: linux.AT_PAGESZ, Value: pageSize},
		linux.AuxEntry{Key: linux.AT_BASE, Value: 0},
		linux.AuxEntry{Key: linux.AT_FLAGS, Value: 0},
		linux.AuxEntry{Key: linux.AT_ENTRY, Value: img.Entry()},
		linux.AuxEntry{Key: linux.AT_UID, Value: uint64(os.Getuid())},
		linux.AuxEntry{Key: linux.AT_EUID, Value: uint64(os.Geteuid())},
		linux.AuxEntry{Key: linux.AT_GID, Value: uint64(os.Getgid())},
		linux.AuxEntry{Key: linux.AT_EGID, Value: uint64(os.Getegid())},
		linux.AuxEntry{Key: linux.AT_SECURE, Value: 0},
	)
}
