package extraction

import (
	"bytes"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"taxdesk/pkg/domain"
)

const (
	minTextLength   = 50
	minDistinctRune = 5
	minLongWords    = 10
)

// Text quality issues, in the order they are checked.
const (
	IssueTooShort     = "too_short"
	IssueLowDiversity = "low_character_diversity"
	IssueTooFewWords  = "too_few_words"
	IssueEmptyText    = "empty_text_layer"
)

var (
	spaceRun     = regexp.MustCompile(`[ \t]+`)
	spaceAtBreak = regexp.MustCompile(` ?\n ?`)
	blankRun     = regexp.MustCompile(`\n{3,}`)
	pdfMagic     = []byte("%PDF")
)

// Classify decides between the pdf and image routes.
func Classify(fileName string, data []byte) domain.FileType {
	if strings.EqualFold(filepath.Ext(fileName), ".pdf") || bytes.HasPrefix(data, pdfMagic) {
		return domain.FileTypePDF
	}
	return domain.FileTypeImage
}

// imageMIME prefers the stored MIME type and sniffs otherwise.
func imageMIME(stored string, data []byte) string {
	if strings.HasPrefix(stored, "image/") {
		return stored
	}
	sniffed := http.DetectContentType(data)
	if strings.HasPrefix(sniffed, "image/") {
		return sniffed
	}
	return "image/png"
}

// NormalizeText unifies line endings and collapses whitespace runs.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRun.ReplaceAllString(s, " ")
	s = spaceAtBreak.ReplaceAllString(s, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Quality is the outcome of the text gate.
type Quality struct {
	OK        bool   `json:"ok"`
	Issue     string `json:"issue,omitempty"`
	Length    int    `json:"length"`
	Distinct  int    `json:"distinct"`
	LongWords int    `json:"longWords"`
}

// AssessText reports whether an extracted text layer is worth sending to
// the text oracle. The first failing check names the issue.
func AssessText(s string) Quality {
	q := Quality{Length: utf8.RuneCountInString(s)}

	seen := make(map[rune]struct{})
	for _, r := range s {
		if !unicode.IsSpace(r) {
			seen[r] = struct{}{}
		}
	}
	q.Distinct = len(seen)

	for _, w := range strings.Fields(s) {
		if utf8.RuneCountInString(w) > 2 {
			q.LongWords++
		}
	}

	switch {
	case q.Length == 0:
		q.Issue = IssueEmptyText
	case q.Length < minTextLength:
		q.Issue = IssueTooShort
	case q.Distinct < minDistinctRune:
		q.Issue = IssueLowDiversity
	case q.LongWords < minLongWords:
		q.Issue = IssueTooFewWords
	default:
		q.OK = true
	}
	return q
}
