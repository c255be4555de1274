package triage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	labelSpecialty        = "Specialty: "
	labelSeverity         = "Severity: "
	labelUrgent           = "Urgent: "
	labelAnswer           = "Answer: "
	labelAnswerConfidence = "Answer confidence: "
	labelConfidence       = "Overall confidence: "
	labelExplanation      = "Explanation: "

	UrgentYes = "yes"
	UrgentNo  = "no"

	// TranscriptLabel marks the triage entry appended after the dialogue lines.
	TranscriptLabel = "medical_system_output:"
)

var blockLabels = []string{
	labelSpecialty,
	labelSeverity,
	labelUrgent,
	labelAnswer,
	labelAnswerConfidence,
	labelConfidence,
	labelExplanation,
}

var ErrMalformedBlock = errors.New("malformed triage block")

// FormatBlock renders r as seven labeled lines, each terminated by a newline.
// Free-text values are escaped so each stays on its own line: a backslash
// becomes \\ and line breaks become \n or \r.
func FormatBlock(r Result) string {
	urgent := UrgentNo
	if r.Urgent {
		urgent = UrgentYes
	}
	values := []string{
		escapeValue(r.Specialty),
		escapeValue(r.SeverityLevel),
		urgent,
		escapeValue(r.Answer),
		formatNumber(r.AnswerConfidence),
		formatNumber(r.Confidence),
		escapeValue(r.Explanation),
	}

	var b strings.Builder
	for i, label := range blockLabels {
		b.WriteString(label)
		b.WriteString(values[i])
		b.WriteByte('\n')
	}
	return b.String()
}

// TranscriptEntry labels a formatted block so the generator can tell it
// apart from conversational turns.
func TranscriptEntry(block string) string {
	return TranscriptLabel + "\n" + block
}

// ParseBlock is the inverse of FormatBlock.
func ParseBlock(block string) (Result, error) {
	if !strings.HasSuffix(block, "\n") {
		return Result{}, fmt.Errorf("%w: missing trailing newline", ErrMalformedBlock)
	}
	lines := strings.Split(strings.TrimSuffix(block, "\n"), "\n")
	if len(lines) != len(blockLabels) {
		return Result{}, fmt.Errorf("%w: got %d lines, want %d", ErrMalformedBlock, len(lines), len(blockLabels))
	}

	values := make([]string, len(blockLabels))
	for i, label := range blockLabels {
		if !strings.HasPrefix(lines[i], label) {
			return Result{}, fmt.Errorf("%w: missing %q", ErrMalformedBlock, strings.TrimSpace(label))
		}
		values[i] = lines[i][len(label):]
	}

	var urgent bool
	switch values[2] {
	case UrgentYes:
		urgent = true
	case UrgentNo:
	default:
		return Result{}, fmt.Errorf("%w: urgency token %q", ErrMalformedBlock, values[2])
	}

	answerConfidence, err := strconv.ParseFloat(values[4], 64)
	if err != nil {
		return Result{}, fmt.Errorf("%w: answer confidence: %v", ErrMalformedBlock, err)
	}
	confidence, err := strconv.ParseFloat(values[5], 64)
	if err != nil {
		return Result{}, fmt.Errorf("%w: overall confidence: %v", ErrMalformedBlock, err)
	}

	text := make(map[int]string, 4)
	for _, i := range []int{0, 1, 3, 6} {
		v, err := unescapeValue(values[i])
		if err != nil {
			return Result{}, fmt.Errorf("%w: %s%v", ErrMalformedBlock, blockLabels[i], err)
		}
		text[i] = v
	}

	return Result{
		Specialty:        text[0],
		SeverityLevel:    text[1],
		Urgent:           urgent,
		Answer:           text[3],
		AnswerConfidence: answerConfidence,
		Confidence:       confidence,
		Explanation:      text[6],
	}, nil
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

func escapeValue(v string) string {
	return valueEscaper.Replace(v)
}

func unescapeValue(v string) (string, error) {
	if !strings.Contains(v, `\`) {
		return v, nil
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' {
			b.WriteByte(v[i])
			continue
		}
		if i+1 >= len(v) {
			return "", errors.New("dangling escape")
		}
		i++
		switch v[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", fmt.Errorf("unknown escape \\%c", v[i])
		}
	}
	return b.String(), nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
