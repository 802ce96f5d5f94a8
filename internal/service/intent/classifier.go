// Package intent decides how a user turn should be answered.
package intent

import "strings"

// Intent is the action selected for a single turn.
type Intent string

const (
	ChatReply       Intent = "chat_reply"
	ImageGeneration Intent = "image_generation"
	ImageEdit       Intent = "image_edit"
)

// The keyword tables are matched as substrings of the lower-cased
// utterance, so "drawing" also satisfies "draw".
var (
	actionKeywords = []string{"generate", "create", "draw", "make", "show", "render", "design"}
	mediaKeywords  = []string{"image", "picture", "photo", "painting", "sketch", "illustration", "art", "drawing"}
	editKeywords   = []string{"edit", "change", "add", "remove", "filter", "style"}
)

// Classify maps an utterance and attachment state to an Intent.
// Generation is checked before editing: an utterance that asks to generate
// an image is treated as generation even when an image is attached.
func Classify(utterance string, hasAttachedImage bool) Intent {
	lower := strings.ToLower(utterance)
	if containsAny(lower, actionKeywords) && containsAny(lower, mediaKeywords) {
		return ImageGeneration
	}
	if hasAttachedImage && containsAny(lower, editKeywords) {
		return ImageEdit
	}
	return ChatReply
}

// ProducesImage reports whether the intent answers with an image.
func (i Intent) ProducesImage() bool {
	return i == ImageGeneration || i == ImageEdit
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
