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

// Package bootcfg reads and writes bootloader configuration files.
//
// Two grammars are supported. The shell variable grammar (KEY='value' lines)
// is used by both /etc/default/grub and /etc/default/u-boot and is modelled
// by Config. The legacy extlinux grammar (KEYWORD value lines grouped under
// LABEL stanzas) is modelled by Extlinux and is only read for migration.
//
// Encoding normalizes formatting: comments are dropped and every value is
// single quoted. Keys and logical values survive a round trip.
package bootcfg

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind is the shape of a configuration value.
type ValueKind int

const (
	Absent ValueKind = iota
	Scalar
	List
)

// Value is a configuration value: absent, a single string, or a list of
// strings.
type Value struct {
	kind  ValueKind
	items []string
}

// S returns a scalar Value.
func S(s string) Value {
	return Value{kind: Scalar, items: []string{s}}
}

// L returns a list Value holding a copy of items.
func L(items ...string) Value {
	return Value{kind: List, items: append([]string{}, items...)}
}

// Kind returns the shape of v.
func (v Value) Kind() ValueKind {
	return v.kind
}

// IsAbsent reports whether v holds nothing.
func (v Value) IsAbsent() bool {
	return v.kind == Absent
}

// String returns the textual form of v; list items are joined with spaces.
func (v Value) String() string {
	return strings.Join(v.items, " ")
}

// Items returns the elements of v. A scalar is a one element list and an
// absent value an empty one.
func (v Value) Items() []string {
	return append([]string{}, v.items...)
}

// Int interprets a scalar value as an integer.
func (v Value) Int() (int, error) {
	if v.kind != Scalar {
		return 0, fmt.Errorf("value %q is not a scalar", v.String())
	}
	return strconv.Atoi(v.items[0])
}

// Bool interprets v using "true"/"false" semantics. Anything other than
// "true" is false.
func (v Value) Bool() bool {
	return v.kind == Scalar && v.items[0] == "true"
}

// Equal reports whether v and o hold the same logical value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind || len(v.items) != len(o.items) {
		return false
	}
	for i := range v.items {
		if v.items[i] != o.items[i] {
			return false
		}
	}
	return true
}

// Flavor says which bootloader a Config belongs to.
type Flavor int

const (
	GRUB Flavor = iota
	UBoot
)

func (f Flavor) String() string {
	if f == UBoot {
		return "u-boot"
	}
	return "grub"
}

// Config is an ordered set of shell style variables.
type Config struct {
	Flavor Flavor

	keys   []string
	values map[string]Value
}

// New returns an empty Config of the given flavor.
func New(f Flavor) *Config {
	return &Config{Flavor: f, values: make(map[string]Value)}
}

// Clone returns a copy of c which can be changed independently.
func (c *Config) Clone() *Config {
	n := New(c.Flavor)
	for _, k := range c.keys {
		// Values are never changed in place, so sharing them is safe.
		n.Set(k, c.values[k])
	}
	return n
}

// Keys returns the keys of c in insertion order.
func (c *Config) Keys() []string {
	return append([]string{}, c.keys...)
}

// Get returns the value for key, which is absent if key is not set.
func (c *Config) Get(key string) Value {
	return c.values[key]
}

// Set stores v under key. Existing keys keep their position; new keys are
// appended. Setting an absent value deletes the key.
func (c *Config) Set(key string, v Value) {
	if v.IsAbsent() {
		c.Delete(key)
		return
	}
	if _, ok := c.values[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.values[key] = v
}

// SetString stores a scalar.
func (c *Config) SetString(key, s string) {
	c.Set(key, S(s))
}

// SetList stores a list.
func (c *Config) SetList(key string, items []string) {
	c.Set(key, L(items...))
}

// SetBool stores "true" or "false".
func (c *Config) SetBool(key string, b bool) {
	c.Set(key, S(strconv.FormatBool(b)))
}

// Delete removes key.
func (c *Config) Delete(key string) {
	if _, ok := c.values[key]; !ok {
		return
	}
	delete(c.values, key)
	for i, k := range c.keys {
		if k == key {
			c.keys = append(c.keys[:i], c.keys[i+1:]...)
			break
		}
	}
}

// Equal reports whether c and o hold the same keys and logical values,
// ignoring order.
func (c *Config) Equal(o *Config) bool {
	if c.Flavor != o.Flavor || len(c.keys) != len(o.keys) {
		return false
	}
	for k, v := range c.values {
		if !v.Equal(o.Get(k)) {
			return false
		}
	}
	return true
}
