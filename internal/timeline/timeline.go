// Package timeline builds the scripted output of a simulated analysis job.
// It is the single source for both log lines and canned results so every
// consumer of a job sees the same sequence.
package timeline

import (
	"fmt"
	"time"

	"github.com/kaxterzz/job-runner/internal/domain"
)

// Indent prefixes per-parameter and per-file lines.
const Indent = "   ├─ "

// Fixed message texts.
const (
	MsgStarted          = "🚀 Job execution started"
	MsgInitializing     = "📋 Initializing job runner..."
	MsgEnvironmentReady = "✅ Environment setup complete"
	MsgParamsHeader     = "📝 Processing input parameters..."
	MsgFilesHeader      = "📁 Processing uploaded files..."
	MsgQueued           = "⏳ Job queued successfully"
	MsgCompleted        = "🎉 Job completed successfully!"
)

// BootstrapCount and ProcessingCount are the fixed entries around the
// input-dependent middle section.
const (
	BootstrapCount  = 3
	ProcessingCount = 8
)

var processing = []struct {
	typ domain.LogType
	msg string
}{
	{domain.LogTypeInfo, "⚙️  Starting due diligence analysis..."},
	{domain.LogTypeInfo, "🔍 Analyzing financial statements..."},
	{domain.LogTypeInfo, "📊 Processing market research data..."},
	{domain.LogTypeInfo, "🔗 Cross-referencing due diligence checks..."},
	{domain.LogTypeInfo, "📈 Generating investment committee documentation..."},
	{domain.LogTypeSuccess, "✅ Analysis complete"},
	{domain.LogTypeInfo, "📋 Generating final reports..."},
	{domain.LogTypeSuccess, MsgCompleted},
}

// Generate returns the ordered log entries a job will emit, stamped with the current time.
func Generate(sub domain.JobSubmission) []domain.LogEntry {
	return GenerateAt(sub, time.Now())
}

// GenerateAt is Generate with an explicit timestamp for every entry.
func GenerateAt(sub domain.JobSubmission, at time.Time) []domain.LogEntry {
	entries := make([]domain.LogEntry, 0, ExpectedLength(sub))
	add := func(typ domain.LogType, msg string) {
		entries = append(entries, domain.NewLogEntry(at, typ, msg))
	}

	add(domain.LogTypeInfo, MsgStarted)
	add(domain.LogTypeInfo, MsgInitializing)
	add(domain.LogTypeSuccess, MsgEnvironmentReady)

	if len(sub.InputFields) > 0 {
		add(domain.LogTypeInfo, MsgParamsHeader)
		for _, f := range sub.InputFields {
			if !f.Valid() {
				continue
			}
			add(domain.LogTypeParam, ParamLine(f))
		}
	}

	if len(sub.UploadedFiles) > 0 {
		add(domain.LogTypeInfo, MsgFilesHeader)
		for _, f := range sub.UploadedFiles {
			add(domain.LogTypeFile, FileLine(f))
		}
	}

	for _, p := range processing {
		add(p.typ, p.msg)
	}
	return entries
}

// ExpectedLength is the number of entries GenerateAt produces for sub.
func ExpectedLength(sub domain.JobSubmission) int {
	n := BootstrapCount + ProcessingCount
	if len(sub.InputFields) > 0 {
		n += 1 + sub.ValidParameters()
	}
	if len(sub.UploadedFiles) > 0 {
		n += 1 + len(sub.UploadedFiles)
	}
	return n
}

// ParamLine formats a parameter entry.
func ParamLine(f domain.InputField) string {
	return fmt.Sprintf("%s%s: %s", Indent, f.Field, f.Value)
}

// FileLine formats a file entry with its size in kibibytes.
func FileLine(f domain.UploadedFile) string {
	return fmt.Sprintf("%s%s (%.2f KB)", Indent, f.Name, float64(f.Size)/1024)
}

// QueuedEntry is the synthetic line emitted shortly after a job is accepted.
func QueuedEntry(at time.Time) domain.LogEntry {
	return domain.NewLogEntry(at, domain.LogTypeInfo, MsgQueued)
}
