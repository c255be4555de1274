// Package triage holds the classification result produced by the triage
// service, its fixed-format text block and the HTTP client that calls it.
package triage

// Result is the structured output of the triage service. Values are kept
// exactly as returned; nothing here normalizes or localizes them.
type Result struct {
	Specialty        string  `json:"specialty"`
	SeverityLevel    string  `json:"severity_level"`
	Urgent           bool    `json:"urgent"`
	Answer           string  `json:"answer"`
	AnswerConfidence float64 `json:"answer_confidence"`
	Confidence       float64 `json:"confidence"`
	Explanation      string  `json:"explanation"`
}
