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

// Package engine turns raw edit prompts into classified, context-enriched
// edits. It recognizes the intent of a prompt, resolves pronoun and
// element-type references against the current design and the recent edit
// history, and builds the enhanced prompt handed to the wireframe
// generator. All classification is deterministic: same prompt, same
// design, same history always yields the same result.
package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/promptwire/promptwire/internal/session"
)

// DefaultConfidenceThreshold is the reference-resolution confidence below
// which an edit is flagged as needing clarification.
const DefaultConfidenceThreshold = 0.7

// ProcessedEdit is the result of running a prompt through the engine.
type ProcessedEdit struct {
	OriginalPrompt       string           `json:"original_prompt"`
	EnhancedPrompt       string           `json:"enhanced_prompt"`
	EditIntent           Intent           `json:"edit_intent"`
	EditType             session.EditType `json:"edit_type"`
	TargetElements       []string         `json:"target_elements"`
	ConfidenceScore      float64          `json:"confidence_score"`
	NeedsClarification   bool             `json:"needs_clarification"`
	ClarificationOptions []string         `json:"clarification_options,omitempty"`
	Metadata             map[string]any   `json:"processing_metadata"`
}

// Engine classifies edit prompts and enriches them with design context.
// Stateless apart from configuration; safe for concurrent use.
type Engine struct {
	log                 logr.Logger
	confidenceThreshold float64
}

// NewEngine returns an Engine with the given confidence threshold.
// A non-positive threshold selects DefaultConfidenceThreshold.
func NewEngine(log logr.Logger, confidenceThreshold float64) *Engine {
	if confidenceThreshold <= 0 {
		confidenceThreshold = DefaultConfidenceThreshold
	}
	return &Engine{
		log:                 log.WithName("engine"),
		confidenceThreshold: confidenceThreshold,
	}
}

// Process runs the full pipeline: intent classification, reference
// resolution, prompt enhancement, and clarification. It never fails; any
// panic from malformed wireframe input degrades to an unclear,
// zero-confidence result that asks the user to be more specific.
func (e *Engine) Process(currentState *session.DesignState, prompt string, history []session.EditContext) (result *ProcessedEdit) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error(fmt.Errorf("%v", r), "edit processing failed", "prompt", prompt)
			result = &ProcessedEdit{
				OriginalPrompt:       prompt,
				EnhancedPrompt:       prompt,
				EditIntent:           IntentUnclear,
				EditType:             session.EditTypeModify,
				TargetElements:       []string{},
				ConfidenceScore:      0.0,
				NeedsClarification:   true,
				ClarificationOptions: []string{"Please specify which element you want to modify"},
				Metadata:             map[string]any{"error": fmt.Sprintf("%v", r)},
			}
		}
	}()

	intent := e.ClassifyIntent(prompt)
	targets, confidence := e.resolveReferences(prompt, currentState, history)
	enhanced := e.BuildContextualPrompt(prompt, currentState.Wireframe, history)

	needsClarification := confidence < e.confidenceThreshold
	var options []string
	if needsClarification {
		options = e.clarificationOptions(prompt, currentState, targets)
	}

	return &ProcessedEdit{
		OriginalPrompt:       prompt,
		EnhancedPrompt:       enhanced,
		EditIntent:           intent,
		EditType:             intent.EditType(),
		TargetElements:       targets,
		ConfidenceScore:      confidence,
		NeedsClarification:   needsClarification,
		ClarificationOptions: options,
		Metadata: map[string]any{
			"processing_time_ms":   time.Since(start).Milliseconds(),
			"context_entries_used": len(history),
			"elements_in_design":   len(extractElements(currentState.Wireframe)),
		},
	}
}

// ClassifyIntent extracts the primary intent from a prompt. The pattern
// table is checked first in declaration order; if nothing matches, a
// keyword fallback chain runs from most to least specific.
func (e *Engine) ClassifyIntent(prompt string) Intent {
	lower := strings.ToLower(strings.TrimSpace(prompt))

	for _, entry := range intentPatterns {
		for _, re := range entry.patterns {
			if re.MatchString(lower) {
				e.log.V(2).Info("matched intent pattern",
					"intent", entry.intent, "pattern", re.String())
				return entry.intent
			}
		}
	}

	switch {
	case containsAny(lower, sizeWords) || strings.Contains(lower, "size"):
		return IntentChangeSize
	case containsAny(lower, textWords) && strings.Contains(prompt, `"`),
		strings.Contains(lower, "text") && strings.Contains(lower, "to"):
		return IntentChangeText
	case containsAny(lower, positionWords):
		return IntentChangePosition
	case containsAny(lower, colorWords):
		return IntentChangeColor
	case containsAny(lower, addWords):
		return IntentAddElement
	case containsAny(lower, removeWords):
		return IntentRemoveElement
	case containsAny(lower, styleWords):
		return IntentChangeStyle
	default:
		return IntentUnclear
	}
}

// resolveReferences maps the prompt's references onto element ids from the
// current design and the recent history. The returned confidence is the
// arithmetic mean of the per-signal scores, 0.0 when nothing resolved.
func (e *Engine) resolveReferences(prompt string, currentState *session.DesignState, history []session.EditContext) ([]string, float64) {
	lower := strings.ToLower(prompt)
	resolved := []string{}
	var scores []float64

	designElements := extractElements(currentState.Wireframe)

	// Pronouns resolve to the single most recent target.
	hasPronoun := false
	for _, re := range pronounPatterns {
		if re.MatchString(lower) {
			hasPronoun = true
			break
		}
	}
	if hasPronoun {
		if recent := recentTargetElements(history); len(recent) > 0 {
			resolved = append(resolved, recent[0])
			scores = append(scores, 0.6)
		}
	}

	// Explicit element-type references ("the button").
	var typeRefs []string
	for _, re := range elementRefPatterns {
		for _, match := range re.FindAllStringSubmatch(lower, -1) {
			typeRefs = append(typeRefs, match[1])
		}
	}
	for _, elementType := range typeRefs {
		if !elementTypes[elementType] {
			continue
		}
		var matching []map[string]any
		for _, elem := range designElements {
			if strings.Contains(strings.ToLower(stringField(elem, "type")), elementType) ||
				strings.Contains(strings.ToLower(stringField(elem, "id")), elementType) ||
				strings.Contains(strings.ToLower(stringField(elem, "class")), elementType) {
				matching = append(matching, elem)
			}
		}
		switch {
		case len(matching) == 1:
			resolved = append(resolved, elementID(matching[0], elementType))
			scores = append(scores, 0.9)
		case len(matching) > 1:
			for _, elem := range matching {
				resolved = append(resolved, elementID(elem, elementType))
			}
			scores = append(scores, 0.6)
		default:
			// Mentioned but absent from the design.
			resolved = append(resolved, elementType)
			scores = append(scores, 0.3)
		}
	}

	// Last resort: infer the target from recent history.
	if len(resolved) == 0 && len(history) > 0 {
		if recent := recentTargetElements(history); len(recent) > 0 {
			resolved = append(resolved, recent[0])
			scores = append(scores, 0.4)
		}
	}

	if len(scores) == 0 {
		return resolved, 0.0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return resolved, sum / float64(len(scores))
}

// BuildContextualPrompt wraps the user's prompt with a summary of the
// current design and the most recent changes, so the generator can resolve
// references like "it" or "the button" itself.
func (e *Engine) BuildContextualPrompt(basePrompt string, wireframe map[string]any, recentChanges []session.EditContext) string {
	parts := []string{"Current Design Context:"}

	elements := extractElements(wireframe)
	if len(elements) > 0 {
		parts = append(parts, "Elements in design:")
		limit := len(elements)
		if limit > 5 {
			limit = 5
		}
		for _, elem := range elements[:limit] {
			elemType := stringField(elem, "type")
			if elemType == "" {
				elemType = "element"
			}
			line := "- " + elemType
			if id := stringField(elem, "id"); id != "" {
				line += fmt.Sprintf(" (id: %s)", id)
			}
			text := stringField(elem, "text")
			if text == "" {
				text = stringField(elem, "label")
			}
			if text != "" {
				line += fmt.Sprintf(": '%s'", text)
			}
			parts = append(parts, line)
		}
	}

	if len(recentChanges) > 0 {
		parts = append(parts, "\nRecent Changes:")
		limit := len(recentChanges)
		if limit > 3 {
			limit = 3
		}
		for i, change := range recentChanges[:limit] {
			parts = append(parts, fmt.Sprintf("%d. %s (type: %s)", i+1, change.Prompt, change.EditType))
		}
	}

	return strings.TrimSpace(fmt.Sprintf(`
%s

User Request: %s

Please apply the requested change to the design, taking into account the current elements and recent modifications. If the request refers to "it", "that", or "the [element]", use the context above to identify the correct target element.
`, strings.Join(parts, "\n"), basePrompt))
}

// clarificationOptions proposes follow-up questions for a low-confidence
// edit: disambiguate multiple targets, list available element types when
// no target resolved, and ask for the operation when the intent is unclear.
func (e *Engine) clarificationOptions(prompt string, currentState *session.DesignState, resolved []string) []string {
	var options []string

	switch {
	case len(resolved) > 1:
		options = append(options,
			fmt.Sprintf("Which element do you want to modify: %s?", strings.Join(resolved, ", ")))
	case len(resolved) == 0:
		designElements := extractElements(currentState.Wireframe)
		if len(designElements) > 0 {
			limit := len(designElements)
			if limit > 5 {
				limit = 5
			}
			seen := make(map[string]bool)
			var types []string
			for _, elem := range designElements[:limit] {
				t := stringField(elem, "type")
				if t == "" {
					t = "element"
				}
				if !seen[t] {
					seen[t] = true
					types = append(types, t)
				}
			}
			options = append(options,
				fmt.Sprintf("Which element do you want to modify? Available: %s", strings.Join(types, ", ")))
		} else {
			options = append(options, "Please specify which element you want to modify.")
		}
	}

	if e.ClassifyIntent(prompt) == IntentUnclear {
		options = append(options, "What would you like to do? (add, remove, modify, change style, etc.)")
	}

	if len(options) == 0 {
		options = []string{"Please provide more specific details about what you want to change."}
	}
	return options
}

// extractElements walks a wireframe depth-first and collects every node
// that looks like a UI element (carries a type, component, or element key).
// Recursion descends through children, components, and elements keys.
func extractElements(wireframe map[string]any) []map[string]any {
	var elements []map[string]any

	var walk func(node any)
	walk = func(node any) {
		switch t := node.(type) {
		case map[string]any:
			if _, ok := t["type"]; ok {
				elements = append(elements, t)
			} else if _, ok := t["component"]; ok {
				elements = append(elements, t)
			} else if _, ok := t["element"]; ok {
				elements = append(elements, t)
			}
			for _, key := range []string{"children", "components", "elements"} {
				if child, ok := t[key]; ok {
					walk(child)
				}
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		}
	}
	walk(wireframe)
	return elements
}

// recentTargetElements flattens the targets of the three most recent
// context entries, newest first, deduplicated preserving order.
func recentTargetElements(history []session.EditContext) []string {
	sorted := make([]session.EditContext, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	limit := len(sorted)
	if limit > 3 {
		limit = 3
	}

	seen := make(map[string]bool)
	var unique []string
	for _, entry := range sorted[:limit] {
		for _, elem := range entry.TargetElements {
			if !seen[elem] {
				seen[elem] = true
				unique = append(unique, elem)
			}
		}
	}
	return unique
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func elementID(elem map[string]any, fallback string) string {
	if id := stringField(elem, "id"); id != "" {
		return id
	}
	return fallback
}
