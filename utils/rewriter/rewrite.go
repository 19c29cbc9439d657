package rewriter

import (
	"regexp"
	"sync"
)

// Rewriter rewrites a path by regular expression replacement. It is safe for
// concurrent use.
type Rewriter struct {
	From string
	To   string

	once sync.Once
	re   *regexp.Regexp
	err  error
}

func (r *Rewriter) compile() (*regexp.Regexp, error) {
	r.once.Do(func() {
		r.re, r.err = regexp.Compile(r.From)
	})

	return r.re, r.err
}

// Validate compiles the pattern, so a malformed rule fails before any request
// is served.
func (r *Rewriter) Validate() error {
	_, err := r.compile()
	return err
}

// IsMatch reports whether the pattern matches path.
func (r *Rewriter) IsMatch(path string) bool {
	re, err := r.compile()
	if err != nil {
		return false
	}

	return re.MatchString(path)
}

// Rewrite applies the replacement to path.
func (r *Rewriter) Rewrite(path string) string {
	re, err := r.compile()
	if err != nil {
		return path
	}

	return re.ReplaceAllString(path, r.To)
}

// Rewriters is an ordered rewrite rule list. The first matching rule is
// applied, exactly once; when none matches the path passes through unchanged.
type Rewriters []*Rewriter

// Rewrite applies the first matching rewriter to path.
func (rs Rewriters) Rewrite(path string) string {
	for _, r := range rs {
		if r.IsMatch(path) {
			return r.Rewrite(path)
		}
	}

	return path
}

// Validate compiles every pattern in the list.
func (rs Rewriters) Validate() error {
	for _, r := range rs {
		if err := r.Validate(); err != nil {
			return err
		}
	}

	return nil
}
