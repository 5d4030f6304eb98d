package browser

import (
	"regexp"
	"strings"

	"github.com/teranos/repost/errors"
)

// compileURLPattern turns a URL glob into an anchored regexp.
// "**" matches across path segments, "*" within one, "?" a single character.
func compileURLPattern(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				b.WriteString(".*")
				i++
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url pattern %q", pattern)
	}
	return re, nil
}
