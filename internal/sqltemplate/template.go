// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package sqltemplate holds the parameterized SQL statements that define
// geometric operations. A Template knows its named slots; the engine fills
// them in without interpreting the statement's semantics.
package sqltemplate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var slotPattern = regexp.MustCompile(`\{([a-z0-9_]+)\}`)

// Template is a SQL statement with named slots of the form {slot_name}.
type Template struct {
	text  string
	slots map[string]struct{}
}

// New parses text and records its named slots. The required slots, if any,
// must all be present in the text or an error is returned; this catches
// malformed operation definitions before any batch is planned.
func New(text string, required ...string) (*Template, error) {
	t := &Template{
		text:  text,
		slots: make(map[string]struct{}),
	}
	for _, m := range slotPattern.FindAllStringSubmatch(text, -1) {
		t.slots[m[1]] = struct{}{}
	}
	var missing []string
	for _, name := range required {
		if _, ok := t.slots[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("sql template is missing required slots: %s", strings.Join(missing, ", "))
	}
	return t, nil
}

// MustNew is New for compile-time constant templates.
func MustNew(text string, required ...string) *Template {
	t, err := New(text, required...)
	if err != nil {
		panic(err)
	}
	return t
}

// Has reports whether the template references the named slot.
func (t *Template) Has(slot string) bool {
	_, ok := t.slots[slot]
	return ok
}

// Slots returns the sorted slot names referenced by the template.
func (t *Template) Slots() []string {
	names := make([]string, 0, len(t.slots))
	for name := range t.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fill substitutes values into every slot of the template. A slot present in
// the text but absent from values is an error; extra values are ignored.
func (t *Template) Fill(values map[string]string) (string, error) {
	var missing []string
	for name := range t.slots {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("no value supplied for sql template slots: %s", strings.Join(missing, ", "))
	}

	out := slotPattern.ReplaceAllStringFunc(t.text, func(m string) string {
		name := m[1 : len(m)-1]
		return values[name]
	})
	return out, nil
}
