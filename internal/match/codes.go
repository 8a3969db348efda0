package match

import (
	"math/rand"
	"strconv"
	"strings"
	"time"
)

const (
	codePrefix    = "MATCH"
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	codeSuffixLen = 9
)

// newCode builds a join code of the form MATCH-<unix millis>-<random suffix>.
// The millisecond prefix keeps codes roughly sortable by creation time; the
// suffix makes collisions within one millisecond vanishingly unlikely.
func newCode(now time.Time, r *rand.Rand) string {
	var b strings.Builder
	b.Grow(len(codePrefix) + 1 + 13 + 1 + codeSuffixLen)
	b.WriteString(codePrefix)
	b.WriteByte('-')
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('-')
	for i := 0; i < codeSuffixLen; i++ {
		b.WriteByte(codeAlphabet[r.Intn(len(codeAlphabet))])
	}
	return b.String()
}
