// Copyright 2026 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bootcfg

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"bitbucket.org/creachadair/shell"
)

// ParseError reports a configuration file which does not follow its grammar.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

var shellKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseShellVars parses KEY=value lines.
//
// Values are unquoted and split into shell words. The result is then split on
// whitespace: a single word becomes a scalar and several words a list, so
// KEY='a b' and KEY="a" "b" both produce the list [a b]. Blank lines and
// comments are ignored, as is a leading "export".
func ParseShellVars(f Flavor, data []byte) (*Config, error) {
	c := New(f)
	s := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, raw, ok := strings.Cut(line, "=")
		if !ok {
			return nil, &ParseError{Line: n, Msg: fmt.Sprintf("expected KEY=value, got %q", line)}
		}
		if !shellKey.MatchString(key) {
			return nil, &ParseError{Line: n, Msg: fmt.Sprintf("invalid variable name %q", key)}
		}
		words, ok := shell.Split(stripComment(raw))
		if !ok {
			return nil, &ParseError{Line: n, Msg: fmt.Sprintf("unterminated quote in value of %s", key)}
		}
		c.Set(key, valueOf(strings.Fields(strings.Join(words, " "))))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return c, nil
}

// stripComment drops a trailing comment: an unquoted # starting a word.
func stripComment(raw string) string {
	var quote byte
	for i := 0; i < len(raw); i++ {
		switch ch := raw[i]; {
		case quote == '\'':
			if ch == '\'' {
				quote = 0
			}
		case quote == '"':
			if ch == '\\' {
				i++
			} else if ch == '"' {
				quote = 0
			}
		case ch == '\\':
			i++
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '#' && i > 0 && (raw[i-1] == ' ' || raw[i-1] == '\t'):
			return raw[:i]
		}
	}
	return raw
}

func valueOf(fields []string) Value {
	switch len(fields) {
	case 0:
		return S("")
	case 1:
		return S(fields[0])
	}
	return L(fields...)
}

// EncodeShellVars writes c as KEY='value' lines in key order.
func EncodeShellVars(c *Config) []byte {
	var b bytes.Buffer
	for _, k := range c.keys {
		fmt.Fprintf(&b, "%s=%s\n", k, quote(c.values[k].String()))
	}
	return b.Bytes()
}

// quote single quotes s for a POSIX shell, always, even when s needs no
// quoting.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
