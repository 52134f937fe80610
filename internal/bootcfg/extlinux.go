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
	"strings"
)

// listKeys hold space separated lists rather than a single string.
var listKeys = map[string]bool{
	"fdtoverlays": true,
}

// Section is an ordered set of extlinux keywords. Keywords are stored lower
// case.
type Section struct {
	keys   []string
	values map[string]Value
}

func newSection() *Section {
	return &Section{values: make(map[string]Value)}
}

// Keys returns the keywords of s in file order.
func (s *Section) Keys() []string {
	return append([]string{}, s.keys...)
}

// Get returns the value of keyword, matched case-insensitively.
func (s *Section) Get(keyword string) Value {
	return s.values[strings.ToLower(keyword)]
}

func (s *Section) set(keyword string, v Value) {
	keyword = strings.ToLower(keyword)
	if _, ok := s.values[keyword]; !ok {
		s.keys = append(s.keys, keyword)
	}
	s.values[keyword] = v
}

// Extlinux is a parsed extlinux.conf.
type Extlinux struct {
	// Global holds the keywords found before the first LABEL.
	Global *Section

	labels []string
	stanza map[string]*Section
}

// Labels returns the label names in file order.
func (e *Extlinux) Labels() []string {
	return append([]string{}, e.labels...)
}

// Label returns the stanza called name, or nil.
func (e *Extlinux) Label(name string) *Section {
	return e.stanza[name]
}

// DefaultLabel returns the stanza named by the global DEFAULT keyword, falling
// back to the first stanza. It returns nil if there are no stanzas.
func (e *Extlinux) DefaultLabel() (string, *Section) {
	if d := e.Global.Get("default"); !d.IsAbsent() {
		if s, ok := e.stanza[d.String()]; ok {
			return d.String(), s
		}
	}
	if len(e.labels) == 0 {
		return "", nil
	}
	return e.labels[0], e.stanza[e.labels[0]]
}

// ParseExtlinux parses the extlinux grammar. Comment and blank lines are
// ignored.
func ParseExtlinux(data []byte) (*Extlinux, error) {
	e := &Extlinux{Global: newSection(), stanza: make(map[string]*Section)}
	cur := e.Global
	s := bufio.NewScanner(bytes.NewReader(data))
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keyword, rest := line, ""
		if i := strings.IndexAny(line, " \t"); i >= 0 {
			keyword, rest = line[:i], strings.TrimSpace(line[i+1:])
		}
		if strings.EqualFold(keyword, "label") {
			if rest == "" {
				return nil, &ParseError{Line: n, Msg: "LABEL without a name"}
			}
			if _, dup := e.stanza[rest]; dup {
				return nil, &ParseError{Line: n, Msg: fmt.Sprintf("duplicate LABEL %q", rest)}
			}
			cur = newSection()
			e.labels = append(e.labels, rest)
			e.stanza[rest] = cur
			continue
		}
		if listKeys[strings.ToLower(keyword)] {
			cur.set(keyword, L(strings.Fields(rest)...))
			continue
		}
		cur.set(keyword, S(rest))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeExtlinux writes e with upper case keywords and indented stanzas.
func EncodeExtlinux(e *Extlinux) []byte {
	var b bytes.Buffer
	writeSection(&b, "", e.Global)
	for _, l := range e.labels {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "LABEL %s\n", l)
		writeSection(&b, "    ", e.stanza[l])
	}
	return b.Bytes()
}

func writeSection(b *bytes.Buffer, indent string, s *Section) {
	for _, k := range s.keys {
		v := s.values[k]
		if v.String() == "" {
			fmt.Fprintf(b, "%s%s\n", indent, strings.ToUpper(k))
			continue
		}
		fmt.Fprintf(b, "%s%s %s\n", indent, strings.ToUpper(k), v.String())
	}
}
