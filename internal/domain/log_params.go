package domain

// LogParams holds parameters for log retrieval and streaming over the API.
//
// Fields:
//   - Job: Filter logs to a specific job name. Empty string means all jobs.
//   - Lines: Number of historical log lines to return. 0 means use server default.
//   - Pattern: Text pattern for filtering log lines. Empty string means no filtering.
//   - Regex: If true, Pattern is treated as a regular expression. If false, Pattern
//     is treated as a literal substring match. Has no effect when Pattern is empty.
type LogParams struct {
	Job     string
	Lines   int
	Pattern string
	Regex   bool
}
