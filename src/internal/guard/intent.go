package guard

import (
	"strings"

	"pushguard/src/internal/dom"
)

type Intent int

const (
	IntentNone Intent = iota
	IntentDelete
	IntentEdit
)

func (i Intent) String() string {
	switch i {
	case IntentDelete:
		return "delete"
	case IntentEdit:
		return "edit"
	}
	return "none"
}

// ParseIntent maps a data-intent value to an Intent.
func ParseIntent(s string) Intent {
	switch strings.TrimSpace(s) {
	case "delete":
		return IntentDelete
	case "edit":
		return IntentEdit
	}
	return IntentNone
}

// IntentAttr is set by renderers that know what a control does. When it is
// present the label heuristics are not consulted.
const IntentAttr = "data-intent"

// Vocabulary holds the label fragments used to recognise controls that do
// not carry IntentAttr. Matching is case-sensitive substring matching.
type Vocabulary struct {
	DeleteText  []string `mapstructure:"delete_text" json:"delete_text"`
	DeleteClass []string `mapstructure:"delete_class" json:"delete_class"`
	EditText    []string `mapstructure:"edit_text" json:"edit_text"`
	EditClass   []string `mapstructure:"edit_class" json:"edit_class"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		DeleteText:  []string{"删除"},
		DeleteClass: []string{"delete"},
		EditText:    []string{"编辑"},
		EditClass:   []string{"edit"},
	}
}

// Classify decides what el would do when clicked. Delete wins over edit when
// both vocabularies match.
func (v Vocabulary) Classify(el dom.Element) Intent {
	if el == nil {
		return IntentNone
	}
	if raw, ok := el.Attr(IntentAttr); ok {
		return ParseIntent(raw)
	}
	text, class := el.Text(), el.ClassName()
	if containsAny(text, v.DeleteText) || containsAny(class, v.DeleteClass) {
		return IntentDelete
	}
	if containsAny(text, v.EditText) || containsAny(class, v.EditClass) {
		return IntentEdit
	}
	return IntentNone
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
