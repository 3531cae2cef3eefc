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
	"regexp"

	"github.com/promptwire/promptwire/internal/session"
)

// Intent is the fine-grained classification of an edit prompt.
type Intent string

const (
	IntentModifyElement  Intent = "modify_element"
	IntentAddElement     Intent = "add_element"
	IntentRemoveElement  Intent = "remove_element"
	IntentChangeStyle    Intent = "change_style"
	IntentChangeLayout   Intent = "change_layout"
	IntentChangeColor    Intent = "change_color"
	IntentChangeSize     Intent = "change_size"
	IntentChangePosition Intent = "change_position"
	IntentChangeText     Intent = "change_text"
	IntentUnclear        Intent = "unclear"
)

// EditType maps an intent onto the coarse wire-level taxonomy.
func (i Intent) EditType() session.EditType {
	switch i {
	case IntentAddElement:
		return session.EditTypeAdd
	case IntentRemoveElement:
		return session.EditTypeRemove
	case IntentChangeStyle, IntentChangeColor, IntentChangeSize:
		return session.EditTypeStyle
	case IntentChangePosition, IntentChangeLayout:
		return session.EditTypeLayout
	default: // modify_element, change_text, unclear
		return session.EditTypeModify
	}
}

// intentPattern pairs an intent with its compiled recognition patterns.
type intentPattern struct {
	intent   Intent
	patterns []*regexp.Regexp
}

// intentPatterns is the ordered pattern table; the first match wins.
// Compiled once at package init and shared across requests.
var intentPatterns = []intentPattern{
	{IntentAddElement, compileAll(
		`add\s+(?:a\s+)?(\w+)`,
		`create\s+(?:a\s+)?(\w+)`,
		`insert\s+(?:a\s+)?(\w+)`,
		`put\s+(?:a\s+)?(\w+)`,
		`include\s+(?:a\s+)?(\w+)`,
	)},
	{IntentRemoveElement, compileAll(
		`remove\s+(?:the\s+)?(\w+)`,
		`delete\s+(?:the\s+)?(\w+)`,
		`take\s+(?:away|out)\s+(?:the\s+)?(\w+)`,
		`get\s+rid\s+of\s+(?:the\s+)?(\w+)`,
	)},
	{IntentChangeColor, compileAll(
		`(?:change|set)\s+(?:the\s+)?(?:color|colour)\s+(?:to\s+)?(\w+)`,
		`(?:color|colour)\s+(?:it\s+)?(\w+)`,
		`make\s+(?:it\s+)?(?:color|colour|red|blue|green|yellow|purple|orange|black|white|gray|grey)`,
		`turn\s+(?:it\s+)?(?:red|blue|green|yellow|purple|orange|black|white|gray|grey)`,
	)},
	{IntentChangeSize, compileAll(
		`make\s+(?:it\s+)?(bigger|larger|smaller|tiny|huge|large|small)`,
		`(?:increase|decrease)\s+(?:the\s+)?size`,
		`resize\s+(?:it\s+)?(?:to\s+)?(\w+)`,
	)},
	{IntentChangePosition, compileAll(
		`move\s+(?:it\s+)?(?:to\s+)?(?:the\s+)?(left|right|top|bottom|center|centre)`,
		`position\s+(?:it\s+)?(?:at\s+)?(?:the\s+)?(left|right|top|bottom|center|centre)`,
		`align\s+(?:it\s+)?(?:to\s+)?(?:the\s+)?(left|right|center|centre)`,
	)},
	{IntentChangeText, compileAll(
		`(?:change|update|set)\s+(?:the\s+)?text\s+to\s+["']([^"']+)["']`,
		`make\s+(?:it\s+)?say\s+["']([^"']+)["']`,
		`update\s+(?:the\s+)?(?:label|title|heading)\s+to\s+["']([^"']+)["']`,
	)},
	{IntentChangeStyle, compileAll(
		`style\s+(?:it\s+)?(?:as\s+)?(\w+)`,
		`make\s+(?:it\s+)?(?:look\s+)?(?:more\s+)?(modern|elegant|simple|clean|fancy|professional|casual)`,
		`apply\s+(\w+)\s+style`,
	)},
}

// Reference-resolution patterns.
var (
	pronounPatterns = compileAll(
		`\b(it|that|this)\b`,
		`\b(them|those|these)\b`,
	)
	elementRefPatterns = compileAll(
		`the\s+(\w+)`,
		`that\s+(\w+)`,
		`this\s+(\w+)`,
	)
)

// Keyword groups for the classification fallback, checked in this strict
// order (more specific first).
var (
	sizeWords     = []string{"bigger", "smaller", "large", "small", "tiny", "huge"}
	textWords     = []string{"say", "text", "label", "title"}
	positionWords = []string{"move", "position", "align"}
	colorWords    = []string{"color", "colour"}
	addWords      = []string{"add", "create", "insert", "new"}
	removeWords   = []string{"remove", "delete", "hide"}
	styleWords    = []string{"style", "look", "appearance"}
)

// elementTypes is the closed vocabulary of UI element types recognized in
// explicit references.
var elementTypes = map[string]bool{
	"button": true, "btn": true, "link": true, "header": true,
	"title": true, "text": true, "input": true, "field": true,
	"image": true, "img": true, "icon": true, "menu": true,
	"nav": true, "navigation": true, "sidebar": true, "footer": true,
	"card": true, "container": true, "box": true, "div": true,
	"section": true, "form": true, "table": true, "list": true,
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(expr)
	}
	return out
}
