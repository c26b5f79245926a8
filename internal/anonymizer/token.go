package anonymizer

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const tokenAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// runToken holds the placeholder values shared by every file of one run
type runToken struct {
	token     string
	timestamp string
	random    string
	replacer  *strings.Replacer
}

func newRunToken(now time.Time) runToken {
	t := runToken{
		token:     strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)),
		timestamp: now.UTC().Format("20060102150405"),
		random:    randomString(8),
	}
	t.replacer = strings.NewReplacer(
		"{token}", t.token,
		"{timestamp}", t.timestamp,
		"{random}", t.random,
	)
	return t
}

// resolve substitutes the shared placeholders in a replacement template
func (t runToken) resolve(template string) string {
	return t.replacer.Replace(template)
}

func randomString(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(tokenAlphabet[rand.IntN(len(tokenAlphabet))])
	}
	return b.String()
}

// randomDigits returns n decimal digits, the first non-zero
func randomDigits(n int) string {
	var b strings.Builder
	b.Grow(n)
	b.WriteByte(byte('1' + rand.IntN(9)))
	for i := 1; i < n; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}
