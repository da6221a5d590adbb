// internal/nlg/types.go
package nlg

import (
	"context"
	"errors"
)

var (
	ErrMissingProject  = errors.New("PROJECT_ID_MISSING")
	ErrMissingLanguage = errors.New("LANGUAGE_MISSING")
	ErrDecode          = errors.New("PAYLOAD_DECODE_FAILED")
)

// FallbackLanguageSlot holds the language used when the requested one is not configured for the project.
const FallbackLanguageSlot = "fallback_language"

// ResponseVariant is one stored candidate for a template. An empty Channel means channel-agnostic.
type ResponseVariant struct {
	Channel  string      `json:"channel,omitempty"`
	Payload  string      `json:"payload"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// SlotMap holds conversation slot values keyed by slot name.
type SlotMap map[string]interface{}

// CallContext tells the resolver whether a live conversation is asking (random variant)
// or a preview/authoring caller (first variant).
type CallContext int

const (
	CallPreview CallContext = iota
	CallRuntime
)

func (c CallContext) String() string {
	switch c {
	case CallRuntime:
		return "runtime"
	case CallPreview:
		return "preview"
	default:
		return "unknown"
	}
}

// LookupQuery is what the resolver asks the response store for.
type LookupQuery struct {
	ProjectID string
	Template  string
	Language  string
	// EmptyAsDefault lets the store retry with the project's default language when nothing matches.
	EmptyAsDefault bool
}

type ResponseStore interface {
	Lookup(ctx context.Context, q LookupQuery) ([]ResponseVariant, error)
}

type LanguageRegistry interface {
	LanguagesOf(ctx context.Context, projectID string) ([]string, error)
}

// Request is a single resolution. Slots may be nil.
type Request struct {
	Template  string
	ProjectID string
	Language  string
	Slots     SlotMap
	Channel   string
	Call      CallContext
}

// ResolvedPayload is the decoded, interpolated record of the chosen variant.
// Fields never contains "key"; Metadata always comes from the variant.
type ResolvedPayload struct {
	Fields   map[string]interface{}
	Metadata interface{}
}

// Text returns the text field when it is a string.
func (p *ResolvedPayload) Text() (string, bool) {
	if p == nil {
		return "", false
	}
	s, ok := p.Fields["text"].(string)
	return s, ok
}
