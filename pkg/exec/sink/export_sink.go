// Copyright 2018 The Ember Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package sink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/snappy"

	"github.com/emberdb/ember/pkg/exec/batch"
	"github.com/emberdb/ember/pkg/exec/desc"
	"github.com/emberdb/ember/pkg/exec/execinfra"
	"github.com/emberdb/ember/pkg/exec/execspec"
	"github.com/emberdb/ember/pkg/exec/execstatus"
	"github.com/emberdb/ember/pkg/exec/profile"
)

// exportSink writes the fragment's output as a snappy-framed delimited text
// file. On a non-OK final status the partial file is removed so consumers
// never see half an export.
type exportSink struct {
	sinkBase
	spec    execspec.ExportSinkSpec
	fid     execspec.UniqueID
	rowDesc desc.RowDescriptor

	path string
	file *os.File
	w    *snappy.Writer

	bytesWritten *profile.Counter
}

var _ DataSink = (*exportSink)(nil)

func newExportSink(
	base sinkBase,
	spec execspec.ExportSinkSpec,
	fid execspec.UniqueID,
	rowDesc desc.RowDescriptor,
) *exportSink {
	return &exportSink{sinkBase: base, spec: spec, fid: fid, rowDesc: rowDesc}
}

func (e *exportSink) Prepare(state *execinfra.RuntimeState) execstatus.Status {
	if e.spec.ExportPath == "" {
		return execstatus.InvalidArgument("export sink: empty export path")
	}
	e.initProfile("ExportSink")
	e.bytesWritten = e.prof.AddCounter("BytesWritten", profile.UnitBytes)
	return execstatus.OK()
}

func (e *exportSink) Open(state *execinfra.RuntimeState) execstatus.Status {
	prefix := e.spec.FilePrefix
	if prefix == "" {
		prefix = "export"
	}
	e.path = filepath.Join(e.spec.ExportPath, fmt.Sprintf("%s_%s.csv.snappy", prefix, e.fid))
	f, err := os.Create(e.path)
	if err != nil {
		return execinfra.StatusFromError(err)
	}
	e.file = f
	e.w = snappy.NewBufferedWriter(f)

	// Emit a header line when the layout carries column names. The header
	// follows the same projection the rows do.
	slots := e.rowDesc.Slots()
	if len(e.outputCols) > 0 {
		projected := make([]desc.SlotDescriptor, len(e.outputCols))
		for i, c := range e.outputCols {
			projected[i] = slots[c]
		}
		slots = projected
	}
	named := false
	for _, s := range slots {
		if s.ColName != "" {
			named = true
			break
		}
	}
	if named {
		line := make([]byte, 0, 64)
		for i, s := range slots {
			if i > 0 {
				line = append(line, e.colSep()...)
			}
			line = append(line, s.ColName...)
		}
		line = append(line, e.lineDelim()...)
		if _, err := e.w.Write(line); err != nil {
			return execinfra.StatusFromError(err)
		}
	}
	return execstatus.OK()
}

func (e *exportSink) colSep() string {
	if e.spec.ColumnSeparator != "" {
		return e.spec.ColumnSeparator
	}
	return ","
}

func (e *exportSink) lineDelim() string {
	if e.spec.LineDelimiter != "" {
		return e.spec.LineDelimiter
	}
	return "\n"
}

func (e *exportSink) Send(
	state *execinfra.RuntimeState, b batch.Carrier,
) execstatus.Status {
	rows := e.projectBatch(b)
	sep, delim := e.colSep(), e.lineDelim()
	for _, r := range rows {
		line := make([]byte, 0, 64)
		for i, d := range r {
			if i > 0 {
				line = append(line, sep...)
			}
			if !d.Null {
				line = append(line, d.String()...)
			}
		}
		line = append(line, delim...)
		n, err := e.w.Write(line)
		if err != nil {
			return execinfra.StatusFromError(err)
		}
		e.bytesWritten.Update(int64(n))
	}
	e.rowsSent.Update(int64(len(rows)))
	return execstatus.OK()
}

func (e *exportSink) Close(
	state *execinfra.RuntimeState, final execstatus.Status,
) execstatus.Status {
	if e.closed {
		return execstatus.OK()
	}
	e.closed = true
	if e.file == nil {
		return execstatus.OK()
	}
	var firstErr error
	if err := e.w.Close(); err != nil {
		firstErr = err
	}
	if err := e.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if !final.OK() {
		// Don't leave a partial export behind a failed instance.
		_ = os.Remove(e.path)
		return execstatus.OK()
	}
	if firstErr != nil {
		return execinfra.StatusFromError(firstErr)
	}
	return execstatus.OK()
}
