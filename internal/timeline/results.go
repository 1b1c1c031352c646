package timeline

import "github.com/kaxterzz/job-runner/internal/domain"

// Display values that a real analysis would compute.
const (
	ResultSummary  = "Due diligence analysis completed successfully"
	ProcessingTime = "2m 34s"
	RiskScore      = "7.2/10"
)

// Results synthesizes the outcome of a finished job.
// ParametersUsed counts every submitted field, including ones skipped by the log output.
func Results(sub domain.JobSubmission) *domain.JobResults {
	return &domain.JobResults{
		Summary: ResultSummary,
		Reports: []domain.Report{
			{
				Name:        "IC_Document.pdf",
				Type:        "Investment Committee Documentation",
				Size:        "2.4 MB",
				DownloadURL: "/mock/downloads/IC_Document.pdf",
			},
			{
				Name:        "Violations_Report.pdf",
				Type:        "Compliance Violations Report",
				Size:        "1.8 MB",
				DownloadURL: "/mock/downloads/Violations_Report.pdf",
			},
		},
		Metrics: domain.ResultMetrics{
			FilesProcessed: len(sub.UploadedFiles),
			ParametersUsed: len(sub.InputFields),
			ProcessingTime: ProcessingTime,
			RiskScore:      RiskScore,
		},
	}
}

// Progress maps the index of the entry being emitted onto the 5..95 band.
// It never returns 100; only completion does.
func Progress(index, total int) int {
	if total <= 0 {
		return 95
	}
	p := index*90/total + 5
	if p > 95 {
		p = 95
	}
	return p
}
