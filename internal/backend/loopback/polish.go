package loopback

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"
)

const defaultPassLimit = 30

type substitution interface {
	apply(input string) (string, bool)
}

// Polisher turns a raw transcript into the text the loopback backend
// streams as LLM output: user substitutions applied until stable, then
// sentence casing and a closing period.
type Polisher struct {
	subs      []substitution
	passLimit int
}

// LoadPolisher reads substitution rules from path. A blank path or a
// missing file gives a polisher with no substitutions.
func LoadPolisher(path string) (*Polisher, error) {
	if strings.TrimSpace(path) == "" {
		return &Polisher{passLimit: defaultPassLimit}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Polisher{passLimit: defaultPassLimit}, nil
		}
		return nil, fmt.Errorf("open polish rules %q: %w", path, err)
	}
	defer f.Close()

	p, err := ParsePolisher(f)
	if err != nil {
		return nil, fmt.Errorf("polish rules %q: %w", path, err)
	}
	return p, nil
}

// ParsePolisher reads one rule per line. Two forms are understood:
//
//	teh => the
//	s/\bgonna\b/going to/g
//
// Literal rules match case-insensitively. Blank lines and # comments are skipped.
func ParsePolisher(r io.Reader) (*Polisher, error) {
	p := &Polisher{passLimit: defaultPassLimit}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			sub substitution
			err error
		)
		switch {
		case isSedRule(line):
			sub, err = parseSedRule(line)
		case strings.Contains(line, "=>"):
			sub, err = parseLiteralRule(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		p.subs = append(p.subs, sub)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

// Polish is deterministic for a given rule set.
func (p *Polisher) Polish(raw string) string {
	text := strings.Join(strings.Fields(raw), " ")

	for pass := 0; pass < p.passLimit; pass++ {
		changed := false
		for _, sub := range p.subs {
			if next, ok := sub.apply(text); ok {
				text = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	runes := []rune(text)
	runes[0] = unicode.ToUpper(runes[0])
	if !unicode.IsPunct(runes[len(runes)-1]) {
		runes = append(runes, '.')
	}
	return string(runes)
}

type literalSub struct {
	re *regexp.Regexp
	to string
}

func parseLiteralRule(line string) (substitution, error) {
	from, to, _ := strings.Cut(line, "=>")
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("literal rule needs a source")
	}
	re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(from))
	if err != nil {
		return nil, err
	}
	return literalSub{re: re, to: strings.TrimSpace(to)}, nil
}

func (s literalSub) apply(input string) (string, bool) {
	out := s.re.ReplaceAllLiteralString(input, s.to)
	return out, out != input
}

type sedSub struct {
	re     *regexp.Regexp
	to     string
	global bool
}

func isSedRule(line string) bool {
	return len(line) > 2 && line[0] == 's' && !isWordByte(line[1])
}

func isWordByte(c byte) bool {
	return c == '_' || c == ' ' || c == '\t' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// parseSedRule accepts s<d>pattern<d>replacement<d>flags where flags are
// any of g (every match), i (ignore case, the default), m and s.
func parseSedRule(line string) (substitution, error) {
	delim := line[1]
	parts, rest, err := splitDelimited(line[2:], delim, 2)
	if err != nil {
		return nil, err
	}

	sub := sedSub{to: parts[1]}
	inline := "i"
	for _, flag := range strings.TrimSpace(rest) {
		switch flag {
		case 'g':
			sub.global = true
		case 'i':
		case 'm', 's':
			inline += string(flag)
		default:
			return nil, fmt.Errorf("unsupported flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	sub.re = re
	return sub, nil
}

// splitDelimited reads n delimiter-terminated fields; a backslash keeps
// the next byte, including the delimiter, in the field as written.
func splitDelimited(s string, delim byte, n int) ([]string, string, error) {
	fields := make([]string, 0, n)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			if s[i+1] == delim {
				b.WriteByte(delim)
			} else {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
			}
			i++
			continue
		}
		if c != delim {
			b.WriteByte(c)
			continue
		}
		fields = append(fields, b.String())
		b.Reset()
		if len(fields) == n {
			return fields, s[i+1:], nil
		}
	}
	return nil, "", errors.New("unterminated expression")
}

func (s sedSub) apply(input string) (string, bool) {
	if s.global {
		out := s.re.ReplaceAllString(input, s.to)
		return out, out != input
	}
	loc := s.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	var dst []byte
	dst = s.re.ExpandString(dst, s.to, input, loc)
	out := input[:loc[0]] + string(dst) + input[loc[1]:]
	return out, out != input
}
