package extraction

import (
	"strings"
	"testing"

	"taxdesk/pkg/domain"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, domain.FileTypePDF, Classify("licence.PDF", []byte("anything")))
	assert.Equal(t, domain.FileTypePDF, Classify("upload", []byte("%PDF-1.7\n...")))
	assert.Equal(t, domain.FileTypeImage, Classify("eid.jpg", []byte{0xff, 0xd8, 0xff}))
	assert.Equal(t, domain.FileTypeImage, Classify("", nil))
}

func TestNormalizeText(t *testing.T) {
	in := "TRADE\t\tLICENSE  \r\nNo.   12345\r\n\r\n\r\n\r\nExpiry  \t 2026-01-01  "
	assert.Equal(t, "TRADE LICENSE\nNo. 12345\n\nExpiry 2026-01-01", NormalizeText(in))
}

func TestAssessText(t *testing.T) {
	// 20 words of 9 characters, 15 distinct letters, 199 runes with separators.
	words := make([]string, 20)
	alphabet := "abcdefghijklmno"
	for i := range words {
		var b strings.Builder
		for j := 0; j < 9; j++ {
			b.WriteByte(alphabet[(i+j)%len(alphabet)])
		}
		words[i] = b.String()
	}
	good := strings.Join(words, " ")
	q := AssessText(good)
	assert.True(t, q.OK, "%+v", q)
	assert.Equal(t, 15, q.Distinct)
	assert.Equal(t, 20, q.LongWords)

	short := AssessText(strings.Repeat("abcde ", 5))
	assert.False(t, short.OK)
	assert.Equal(t, IssueTooShort, short.Issue)

	flat := AssessText(strings.Repeat("a", 60))
	assert.False(t, flat.OK)
	assert.Equal(t, IssueLowDiversity, flat.Issue)

	fewWords := AssessText("ab cd ef gh ij kl mn op qr st uv wx yz ab cd ef gh ij kl mn op qr st uv wx")
	assert.False(t, fewWords.OK)
	assert.Equal(t, IssueTooFewWords, fewWords.Issue)

	assert.Equal(t, IssueEmptyText, AssessText("").Issue)
}
