// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer renders closed assistant answers and caches the output
// per message, since a snapshot arrives for every streamed fragment.
type markdownRenderer struct {
	style string
	width int
	r     *glamour.TermRenderer
	cache map[string]renderedEntry
}

type renderedEntry struct {
	source string
	output string
}

func newMarkdownRenderer(style string, width int) *markdownRenderer {
	m := &markdownRenderer{style: style, cache: make(map[string]renderedEntry)}
	m.resize(width)
	return m
}

// resize rebuilds the renderer for a new wrap width and drops the cache.
func (m *markdownRenderer) resize(width int) {
	if width < 20 {
		width = 20
	}
	if width == m.width && m.r != nil {
		return
	}
	m.width = width
	m.cache = make(map[string]renderedEntry)

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(m.style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		// Plain text fallback.
		m.r = nil
		return
	}
	m.r = r
}

// render returns the markdown rendering of source, keyed by id.
func (m *markdownRenderer) render(id, source string) string {
	if m.r == nil || source == "" {
		return source
	}
	if e, ok := m.cache[id]; ok && e.source == source {
		return e.output
	}
	out, err := m.r.Render(source)
	if err != nil {
		return source
	}
	out = strings.Trim(out, "\n")
	m.cache[id] = renderedEntry{source: source, output: out}
	return out
}
