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

// Package cmd holds implementations of the elfexec commands.
package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/elfexec/elfexec/pkg/elfimage"
	"github.com/elfexec/elfexec/pkg/procmaps"
	"github.com/elfexec/elfexec/pkg/takeover"
)

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
}

// writeHeaders prints the file header, segments and sections of img.
func writeHeaders(w io.Writer, img *elfimage.Image) error {
	h := img.Header
	tw := newTabWriter(w)
	fmt.Fprintf(tw, "File:\t%s (%s)\n", img.Name, humanize.IBytes(uint64(len(img.Raw))))
	fmt.Fprintf(tw, "Class:\t%v\n", h.Class)
	fmt.Fprintf(tw, "Data:\t%v\n", h.Data)
	fmt.Fprintf(tw, "OS/ABI:\t%v\n", h.OSABI)
	fmt.Fprintf(tw, "Type:\t%v\n", h.Type)
	fmt.Fprintf(tw, "Machine:\t%v\n", h.Machine)
	fmt.Fprintf(tw, "Entry:\t%#x\n", h.Entry)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nSegments (%d):\n", len(img.Segments))
	tw = newTabWriter(w)
	fmt.Fprint(tw, "TYPE\tFLAGS\tOFFSET\tVADDR\tFILESZ\tMEMSZ\tALIGN\n")
	for _, s := range img.Segments {
		fmt.Fprintf(tw, "%v\t%v\t%#x\t%#x\t%#x\t%#x\t%#x\n", s.Type, s.Flags, s.Offset, s.Vaddr, s.FileSize, s.MemSize, s.Align)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nSections (%d):\n", len(img.Sections))
	tw = newTabWriter(w)
	fmt.Fprint(tw, "NAME\tTYPE\tADDR\tOFFSET\tSIZE\n")
	for _, s := range img.Sections {
		fmt.Fprintf(tw, "%s\t%v\t%#x\t%#x\t%#x\n", s.Name, s.Type, s.Addr, s.Offset, s.Size)
	}
	return tw.Flush()
}

// writeRegions prints one line per mapping.
func writeRegions(w io.Writer, regions []procmaps.Region) error {
	tw := newTabWriter(w)
	fmt.Fprint(tw, "START\tEND\tSIZE\tPERMS\tKIND\tPATH\n")
	var total uint64
	for _, r := range regions {
		fmt.Fprintf(tw, "%#x\t%#x\t%s\t%v\t%v\t%s\n", uint64(r.Range.Start), uint64(r.Range.End), humanize.IBytes(r.Range.Length()), r.Perms, r.Kind, r.Path)
		total += r.Range.Length()
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d regions, %s mapped\n", len(regions), humanize.IBytes(total))
	return err
}

// writePlan prints the directives of p and their totals.
func writePlan(w io.Writer, p takeover.Plan) error {
	tw := newTabWriter(w)
	fmt.Fprint(tw, "OP\tSTART\tEND\tSIZE\n")
	var released, reserved uint64
	for _, d := range p {
		r := d.Range()
		fmt.Fprintf(tw, "%v\t%#x\t%#x\t%s\n", d.Op, uint64(r.Start), uint64(r.End), humanize.IBytes(d.Len))
		if d.Op == takeover.OpRelease {
			released += d.Len
		} else {
			reserved += d.Len
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d releases (%s), %d reserves (%s), table of %s\n",
		p.Count(takeover.OpRelease), humanize.IBytes(released),
		p.Count(takeover.OpReserve), humanize.IBytes(reserved),
		humanize.IBytes(uint64(p.EncodedSize())))
	return err
}
