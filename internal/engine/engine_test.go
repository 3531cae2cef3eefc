/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptwire/promptwire/internal/session"
)

func newTestEngine() *Engine {
	return NewEngine(logr.Discard(), 0)
}

func stateWithElements(elements ...map[string]any) *session.DesignState {
	children := make([]any, len(elements))
	for i, e := range elements {
		children[i] = e
	}
	return &session.DesignState{
		Version: 1,
		Wireframe: map[string]any{
			"layout":   "vertical",
			"children": children,
		},
		CreatedAt: time.Now().UTC(),
	}
}

func buttonElem(id, text string) map[string]any {
	return map[string]any{"id": id, "type": "button", "text": text}
}

// --- intent classification ---

func TestClassifyIntent_Patterns(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		prompt string
		want   Intent
	}{
		{"add a search bar", IntentAddElement},
		{"create a login form", IntentAddElement},
		{"delete the footer", IntentRemoveElement},
		{"get rid of the sidebar", IntentRemoveElement},
		{"make it blue", IntentChangeColor},
		{"change the color to red", IntentChangeColor},
		{"make it bigger", IntentChangeSize},
		{"increase the size", IntentChangeSize},
		{"move it to the left", IntentChangePosition},
		{"align it to the center", IntentChangePosition},
		{`change the text to "Sign up"`, IntentChangeText},
		{`make it say "Welcome back"`, IntentChangeText},
		{"make it look modern", IntentChangeStyle},
		{"apply dark style", IntentChangeStyle},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.ClassifyIntent(tt.prompt), "prompt: %q", tt.prompt)
	}
}

func TestClassifyIntent_KeywordFallback(t *testing.T) {
	e := newTestEngine()

	tests := []struct {
		prompt string
		want   Intent
	}{
		{"I want it smaller", IntentChangeSize},
		{"reduce the size of everything", IntentChangeSize},
		{`set the label to "Hello"`, IntentChangeText},
		{"update the text to welcome", IntentChangeText},
		{"move everything around", IntentChangePosition},
		{"adjust the colour", IntentChangeColor},
		{"we need a new widget", IntentAddElement},
		{"hide the banner", IntentRemoveElement},
		{"improve the look", IntentChangeStyle},
		{"do something", IntentUnclear},
		{"change the button", IntentUnclear},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.ClassifyIntent(tt.prompt), "prompt: %q", tt.prompt)
	}
}

func TestClassifyIntent_PatternsWinOverKeywords(t *testing.T) {
	e := newTestEngine()

	// "bigger" is a size keyword, but the full phrase also matches the size
	// pattern; either way the result must be size, not color ("make it").
	assert.Equal(t, IntentChangeSize, e.ClassifyIntent("make it bigger"))
	// "blue" hits the color pattern before any keyword fallback runs.
	assert.Equal(t, IntentChangeColor, e.ClassifyIntent("make it blue"))
}

func TestIntentEditType(t *testing.T) {
	tests := []struct {
		intent Intent
		want   session.EditType
	}{
		{IntentAddElement, session.EditTypeAdd},
		{IntentRemoveElement, session.EditTypeRemove},
		{IntentChangeStyle, session.EditTypeStyle},
		{IntentChangeColor, session.EditTypeStyle},
		{IntentChangeSize, session.EditTypeStyle},
		{IntentChangePosition, session.EditTypeLayout},
		{IntentChangeLayout, session.EditTypeLayout},
		{IntentChangeText, session.EditTypeModify},
		{IntentModifyElement, session.EditTypeModify},
		{IntentUnclear, session.EditTypeModify},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.intent.EditType(), "intent: %s", tt.intent)
	}
}

// --- reference resolution ---

func TestProcess_PronounResolvesToRecentTarget(t *testing.T) {
	e := newTestEngine()
	state := stateWithElements(buttonElem("button-1", "Submit"))
	history := []session.EditContext{
		{
			Prompt:         "add a button",
			EditType:       session.EditTypeAdd,
			TargetElements: []string{"button-1"},
			Timestamp:      time.Now().UTC(),
		},
	}

	result := e.Process(state, "make it bigger", history)

	assert.Equal(t, IntentChangeSize, result.EditIntent)
	assert.Equal(t, session.EditTypeStyle, result.EditType)
	assert.Equal(t, []string{"button-1"}, result.TargetElements)
	assert.InDelta(t, 0.6, result.ConfidenceScore, 0.001)
	assert.True(t, result.NeedsClarification)
}

func TestProcess_SingleTypeMatchIsConfident(t *testing.T) {
	e := newTestEngine()
	state := stateWithElements(
		buttonElem("button-1", "Submit"),
		map[string]any{"id": "header-1", "type": "header", "text": "Welcome"},
	)

	result := e.Process(state, "change the button", nil)

	assert.Equal(t, []string{"button-1"}, result.TargetElements)
	assert.InDelta(t, 0.9, result.ConfidenceScore, 0.001)
	assert.False(t, result.NeedsClarification)
	assert.Empty(t, result.ClarificationOptions)
}

func TestProcess_AmbiguousTypeMatchNeedsClarification(t *testing.T) {
	e := newTestEngine()
	state := stateWithElements(
		buttonElem("button-1", "Submit"),
		buttonElem("button-2", "Cancel"),
	)

	result := e.Process(state, "change the button", nil)

	assert.Equal(t, []string{"button-1", "button-2"}, result.TargetElements)
	assert.InDelta(t, 0.6, result.ConfidenceScore, 0.001)
	assert.True(t, result.NeedsClarification)
	require.NotEmpty(t, result.ClarificationOptions)
	assert.Contains(t, result.ClarificationOptions[0], "button-1")
	assert.Contains(t, result.ClarificationOptions[0], "button-2")
}

func TestProcess_ReferencedTypeAbsentFromDesign(t *testing.T) {
	e := newTestEngine()
	state := stateWithElements(buttonElem("button-1", "Submit"))

	result := e.Process(state, "change the sidebar", nil)

	assert.Equal(t, []string{"sidebar"}, result.TargetElements)
	assert.InDelta(t, 0.3, result.ConfidenceScore, 0.001)
	assert.True(t, result.NeedsClarification)
}

func TestProcess_InfersTargetFromHistory(t *testing.T) {
	e := newTestEngine()
	state := stateWithElements(buttonElem("button-1", "Submit"))
	history := []session.EditContext{
		{
			Prompt:         "make button-1 blue",
			EditType:       session.EditTypeStyle,
			TargetElements: []string{"button-1"},
			Timestamp:      time.Now().UTC(),
		},
	}

	// No pronoun, no element reference; only history offers a target.
	result := e.Process(state, "brighter please", history)

	assert.Equal(t, []string{"button-1"}, result.TargetElements)
	assert.InDelta(t, 0.4, result.ConfidenceScore, 0.001)
	assert.True(t, result.NeedsClarification)
}

func TestProcess_NoSignalsZeroConfidence(t *testing.T) {
	e := newTestEngine()
	state := stateWithElements(buttonElem("button-1", "Submit"))

	result := e.Process(state, "hello world", nil)

	assert.Empty(t, result.TargetElements)
	assert.Zero(t, result.ConfidenceScore)
	assert.True(t, result.NeedsClarification)
	require.NotEmpty(t, result.ClarificationOptions)
	assert.Contains(t, result.ClarificationOptions[0], "Available: button")
}

func TestRecentTargetElements_NewestFirstDeduplicated(t *testing.T) {
	base := time.Now().UTC()
	history := []session.EditContext{
		{TargetElements: []string{"a", "b"}, Timestamp: base.Add(-3 * time.Minute)},
		{TargetElements: []string{"c"}, Timestamp: base.Add(-1 * time.Minute)},
		{TargetElements: []string{"b", "d"}, Timestamp: base.Add(-2 * time.Minute)},
		{TargetElements: []string{"e"}, Timestamp: base.Add(-4 * time.Minute)},
	}

	// Only the three most recent entries count, newest first.
	assert.Equal(t, []string{"c", "b", "d", "a"}, recentTargetElements(history))
}

// --- contextual prompt ---

func TestBuildContextualPrompt_FullSections(t *testing.T) {
	e := newTestEngine()
	wireframe := map[string]any{
		"layout": "vertical",
		"children": []any{
			buttonElem("button-1", "Submit"),
		},
	}
	history := []session.EditContext{
		{Prompt: "make it blue", EditType: session.EditTypeStyle},
	}

	got := e.BuildContextualPrompt("move it left", wireframe, history)

	want := "Current Design Context:\n" +
		"Elements in design:\n" +
		"- button (id: button-1): 'Submit'\n" +
		"\nRecent Changes:\n" +
		"1. make it blue (type: style)\n" +
		"\nUser Request: move it left\n" +
		"\nPlease apply the requested change to the design, taking into account the current elements and recent modifications. If the request refers to \"it\", \"that\", or \"the [element]\", use the context above to identify the correct target element."
	assert.Equal(t, want, got)
}

func TestBuildContextualPrompt_LimitsElementsAndChanges(t *testing.T) {
	e := newTestEngine()
	var children []any
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		children = append(children, map[string]any{"id": id, "type": "button"})
	}
	wireframe := map[string]any{"children": children}

	var history []session.EditContext
	for _, p := range []string{"one", "two", "three", "four"} {
		history = append(history, session.EditContext{Prompt: p, EditType: session.EditTypeModify})
	}

	got := e.BuildContextualPrompt("tweak it", wireframe, history)

	assert.Contains(t, got, "(id: e)")
	assert.NotContains(t, got, "(id: f)")
	assert.Contains(t, got, "3. three")
	assert.NotContains(t, got, "4. four")
}

func TestBuildContextualPrompt_LabelFallsBackForText(t *testing.T) {
	e := newTestEngine()
	wireframe := map[string]any{
		"children": []any{
			map[string]any{"id": "input-1", "type": "input", "label": "Email"},
		},
	}

	got := e.BuildContextualPrompt("focus it", wireframe, nil)
	assert.Contains(t, got, "- input (id: input-1): 'Email'")
}

// --- element extraction ---

func TestExtractElements_WalksNestedContainers(t *testing.T) {
	wireframe := map[string]any{
		"layout": "vertical",
		"children": []any{
			map[string]any{
				"id":   "container-1",
				"type": "container",
				"children": []any{
					buttonElem("button-1", "OK"),
					map[string]any{
						"component": "nav",
						"elements": []any{
							map[string]any{"id": "link-1", "type": "link"},
						},
					},
				},
			},
		},
	}

	elements := extractElements(wireframe)
	require.Len(t, elements, 4)

	var ids []string
	for _, elem := range elements {
		if id := stringField(elem, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	assert.Equal(t, []string{"container-1", "button-1", "link-1"}, ids)
}

func TestExtractElements_IgnoresUnmarkedNodes(t *testing.T) {
	wireframe := map[string]any{
		"layout":   "grid",
		"metadata": map[string]any{"theme": "dark"},
	}
	assert.Empty(t, extractElements(wireframe))
}

// --- determinism and degradation ---

func TestProcess_Deterministic(t *testing.T) {
	e := newTestEngine()
	state := stateWithElements(
		buttonElem("button-1", "Submit"),
		buttonElem("button-2", "Cancel"),
	)
	history := []session.EditContext{
		{
			Prompt:         "add buttons",
			EditType:       session.EditTypeAdd,
			TargetElements: []string{"button-1", "button-2"},
			Timestamp:      time.Now().UTC(),
		},
	}

	first := e.Process(state, "make it bigger", history)
	second := e.Process(state, "make it bigger", history)

	assert.Equal(t, first.EnhancedPrompt, second.EnhancedPrompt)
	assert.Equal(t, first.EditIntent, second.EditIntent)
	assert.Equal(t, first.EditType, second.EditType)
	assert.Equal(t, first.TargetElements, second.TargetElements)
	assert.Equal(t, first.ConfidenceScore, second.ConfidenceScore)
	assert.Equal(t, first.NeedsClarification, second.NeedsClarification)
	assert.Equal(t, first.ClarificationOptions, second.ClarificationOptions)
}

func TestProcess_RecoversFromMalformedState(t *testing.T) {
	e := newTestEngine()

	result := e.Process(nil, "make it bigger", nil)

	require.NotNil(t, result)
	assert.Equal(t, "make it bigger", result.OriginalPrompt)
	assert.Equal(t, "make it bigger", result.EnhancedPrompt)
	assert.Equal(t, IntentUnclear, result.EditIntent)
	assert.Equal(t, session.EditTypeModify, result.EditType)
	assert.Empty(t, result.TargetElements)
	assert.Zero(t, result.ConfidenceScore)
	assert.True(t, result.NeedsClarification)
	assert.Equal(t, []string{"Please specify which element you want to modify"}, result.ClarificationOptions)
}

func TestProcess_MetadataCounts(t *testing.T) {
	e := newTestEngine()
	state := stateWithElements(buttonElem("button-1", "Submit"))
	history := []session.EditContext{
		{Prompt: "one", Timestamp: time.Now().UTC()},
		{Prompt: "two", Timestamp: time.Now().UTC()},
	}

	result := e.Process(state, "change the button", history)

	assert.Equal(t, 2, result.Metadata["context_entries_used"])
	assert.Equal(t, 1, result.Metadata["elements_in_design"])
}
