// Package placeholder resolves single-brace tokens inside snippet content.
//
// Resolution is a pure mapping from token to value given an environment
// capture (wall-clock time and clipboard text), taken once per expansion.
// The scan is a single left-to-right pass; recognized tokens are replaced,
// everything else is left verbatim so user content containing a bare "{"
// is never corrupted. Malformed tokens (bad random range, failed script)
// also stay literal rather than aborting the expansion.
//
// The {cursor} marker is deliberately not substituted here: it survives
// resolution and is consumed by the inserter, which strips it and
// positions the caret at its location.
package placeholder

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CursorMarker positions the caret after insertion. It resolves to the
// empty string textually; see SplitCursor.
const CursorMarker = "{cursor}"

// Env is the environment capture a resolution runs against. It is taken
// once, at expansion time, so every token in one snippet sees the same
// clock and clipboard.
type Env struct {
	Now       time.Time
	Clipboard string
}

// Options configures a Resolver.
type Options struct {
	// EnableScript allows {js:expr} tokens. Off by default: script
	// evaluation runs user-authored code and is opt-in.
	EnableScript bool

	// ScriptTimeout bounds a single {js:} evaluation. Zero means
	// DefaultScriptTimeout.
	ScriptTimeout time.Duration
}

// DefaultScriptTimeout bounds {js:} evaluation when Options leaves it zero.
const DefaultScriptTimeout = 50 * time.Millisecond

// Resolver substitutes placeholder tokens. Safe for concurrent use.
type Resolver struct {
	opts Options
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.ScriptTimeout <= 0 {
		opts.ScriptTimeout = DefaultScriptTimeout
	}
	return &Resolver{opts: opts}
}

// Resolve substitutes every recognized token in content. Content with no
// tokens is returned unchanged.
func (r *Resolver) Resolve(content string, env Env) string {
	if !strings.ContainsRune(content, '{') {
		return content
	}
	var b strings.Builder
	b.Grow(len(content))
	rest := content
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:open])
		rest = rest[open:]

		// Double braces belong to the dynamic-field pass, which runs
		// before this one. Anything left is passed through untouched.
		if strings.HasPrefix(rest, "{{") {
			b.WriteString("{{")
			rest = rest[2:]
			continue
		}
		close := strings.IndexByte(rest, '}')
		inner := strings.IndexByte(rest[1:], '{')
		if close < 0 || (inner >= 0 && inner+1 < close) {
			// No closing brace before the next opening one: not a token.
			b.WriteByte('{')
			rest = rest[1:]
			continue
		}
		token := rest[:close+1]
		rest = rest[close+1:]
		if out, ok := r.resolveToken(token[1:len(token)-1], env); ok {
			b.WriteString(out)
		} else {
			b.WriteString(token)
		}
	}
}

// resolveToken maps a token body (braces stripped) to its value. The
// second return is false when the token must stay literal.
func (r *Resolver) resolveToken(body string, env Env) (string, bool) {
	name, arg, hasArg := strings.Cut(body, ":")
	switch name {
	case "cursor":
		return "", false // consumed by the inserter
	case "time":
		switch {
		case !hasArg:
			return env.Now.Format("15:04:05"), true
		case arg == "short":
			return env.Now.Format("15:04"), true
		}
		return "", false
	case "date", "yyyy-mm-dd":
		return env.Now.Format("2006-01-02"), true
	case "dd/mm":
		return env.Now.Format("02/01"), true
	case "dd/mm/yyyy":
		return env.Now.Format("02/01/2006"), true
	case "mm/dd/yyyy":
		return env.Now.Format("01/02/2006"), true
	case "datetime":
		return env.Now.Format("2006-01-02 15:04:05"), true
	case "weekday":
		return env.Now.Format("Monday"), true
	case "month":
		return env.Now.Format("January"), true
	case "year":
		return env.Now.Format("2006"), true
	case "timestamp":
		return strconv.FormatInt(env.Now.Unix(), 10), true
	case "clipboard":
		return env.Clipboard, true
	case "upper":
		return strings.ToUpper(env.Clipboard), true
	case "lower":
		return strings.ToLower(env.Clipboard), true
	case "title":
		return cases.Title(language.Und).String(env.Clipboard), true
	case "uuid":
		return uuid.NewString(), true
	case "random":
		if !hasArg {
			return "", false
		}
		return randomToken(arg)
	case "js":
		if !r.opts.EnableScript || !hasArg {
			return "", false
		}
		return evalScript(arg, env, r.opts.ScriptTimeout)
	}
	return "", false
}

// randomToken parses "a-b" and draws a uniform integer from the inclusive
// range. A reversed or unparsable range keeps the token literal.
func randomToken(arg string) (string, bool) {
	lo, hi, ok := strings.Cut(arg, "-")
	if !ok {
		return "", false
	}
	a, err := strconv.Atoi(lo)
	if err != nil || a < 0 {
		return "", false
	}
	b, err := strconv.Atoi(hi)
	if err != nil || b < a {
		return "", false
	}
	return strconv.Itoa(a + rand.IntN(b-a+1)), true
}

// SplitCursor splits content at the first cursor marker. When found is
// true the marker itself is removed; before+after is the text to insert
// and the caret belongs between them.
func SplitCursor(content string) (before, after string, found bool) {
	i := strings.Index(content, CursorMarker)
	if i < 0 {
		return content, "", false
	}
	return content[:i], content[i+len(CursorMarker):], true
}
