// internal/nlg/classify.go
package nlg

import "fmt"

// Shape is the message shape a resolved record is projected into.
type Shape int

const (
	ShapeText Shape = iota
	ShapeQuickReply
	ShapeImage
	ShapeCustom
)

func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "TextPayload"
	case ShapeQuickReply:
		return "QuickReplyPayload"
	case ShapeImage:
		return "ImagePayload"
	case ShapeCustom:
		return "CustomPayload"
	default:
		return "UnknownPayload"
	}
}

// ButtonKind discriminates buttons on their "type" field.
type ButtonKind int

const (
	ButtonUnresolvable ButtonKind = iota
	ButtonPostback
	ButtonWebURL
)

const (
	ButtonTypePostback = "postback"
	ButtonTypeWebURL   = "web_url"
)

// ClassifyContent decides the shape from the marker fields of a resolved record.
func ClassifyContent(fields map[string]interface{}) Shape {
	has := func(name string) bool {
		_, ok := fields[name]
		return ok
	}

	switch {
	case has("custom"), has("elements"), has("attachment"):
		return ShapeCustom
	case has("image") && has("buttons"):
		return ShapeCustom
	case has("image"):
		return ShapeImage
	case has("buttons"):
		return ShapeQuickReply
	case has("text"):
		return ShapeText
	default:
		return ShapeCustom
	}
}

// ClassifyButton returns ButtonUnresolvable for any type other than postback and web_url.
func ClassifyButton(button map[string]interface{}) ButtonKind {
	switch stringField(button, "type") {
	case ButtonTypePostback:
		return ButtonPostback
	case ButtonTypeWebURL:
		return ButtonWebURL
	default:
		return ButtonUnresolvable
	}
}

// Payload is one of TextPayload, QuickReplyPayload, ImagePayload or CustomPayload.
type Payload interface {
	Shape() Shape
	isPayload()
}

// TextPayload carries text and metadata only; every other field of the record is ignored.
type TextPayload struct {
	Text     string      `json:"text"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// QuickReplyPayload carries text, buttons and metadata; every other field is ignored.
type QuickReplyPayload struct {
	Text     string      `json:"text,omitempty"`
	Buttons  []Button    `json:"buttons"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// ImagePayload carries the image reference and metadata; text and anything else is ignored.
type ImagePayload struct {
	Image    string      `json:"image"`
	Metadata interface{} `json:"metadata,omitempty"`
}

// CustomPayload carries elements, attachment, custom, buttons, image and metadata.
// Elements, Attachment and Custom are passed through untyped.
type CustomPayload struct {
	Elements   interface{} `json:"elements,omitempty"`
	Attachment interface{} `json:"attachment,omitempty"`
	Custom     interface{} `json:"custom,omitempty"`
	Buttons    []Button    `json:"buttons,omitempty"`
	Image      string      `json:"image,omitempty"`
	Metadata   interface{} `json:"metadata,omitempty"`
}

func (TextPayload) Shape() Shape       { return ShapeText }
func (QuickReplyPayload) Shape() Shape { return ShapeQuickReply }
func (ImagePayload) Shape() Shape      { return ShapeImage }
func (CustomPayload) Shape() Shape     { return ShapeCustom }

func (TextPayload) isPayload()       {}
func (QuickReplyPayload) isPayload() {}
func (ImagePayload) isPayload()      {}
func (CustomPayload) isPayload()     {}

// Button is a PostbackButton or a WebURLButton.
type Button interface {
	Kind() ButtonKind
}

type PostbackButton struct {
	Title   string `json:"title"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

type WebURLButton struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	URL   string `json:"url"`
}

func (PostbackButton) Kind() ButtonKind { return ButtonPostback }
func (WebURLButton) Kind() ButtonKind   { return ButtonWebURL }

// ProjectionReport lists what projection left out.
type ProjectionReport struct {
	DroppedButtons int
}

// TypedPayload pairs a projected payload with its shape name for JSON transports.
type TypedPayload struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

func Typed(p Payload) TypedPayload {
	return TypedPayload{Type: p.Shape().String(), Payload: p}
}

// Project shapes a resolved record into its typed payload. Buttons that cannot be
// classified are omitted and counted in the report.
func Project(resolved *ResolvedPayload) (Payload, ProjectionReport) {
	var report ProjectionReport
	if resolved == nil {
		return TextPayload{}, report
	}
	fields := resolved.Fields

	switch ClassifyContent(fields) {
	case ShapeText:
		return TextPayload{
			Text:     stringField(fields, "text"),
			Metadata: resolved.Metadata,
		}, report
	case ShapeQuickReply:
		buttons, dropped := projectButtons(fields["buttons"])
		report.DroppedButtons = dropped
		return QuickReplyPayload{
			Text:     stringField(fields, "text"),
			Buttons:  buttons,
			Metadata: resolved.Metadata,
		}, report
	case ShapeImage:
		return ImagePayload{
			Image:    stringField(fields, "image"),
			Metadata: resolved.Metadata,
		}, report
	default:
		buttons, dropped := projectButtons(fields["buttons"])
		report.DroppedButtons = dropped
		return CustomPayload{
			Elements:   fields["elements"],
			Attachment: fields["attachment"],
			Custom:     fields["custom"],
			Buttons:    buttons,
			Image:      stringField(fields, "image"),
			Metadata:   resolved.Metadata,
		}, report
	}
}

func projectButtons(raw interface{}) ([]Button, int) {
	items, ok := raw.([]interface{})
	if !ok {
		return []Button{}, 0
	}

	buttons := make([]Button, 0, len(items))
	dropped := 0
	for _, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			dropped++
			continue
		}

		switch ClassifyButton(fields) {
		case ButtonPostback:
			buttons = append(buttons, PostbackButton{
				Title:   stringField(fields, "title"),
				Type:    ButtonTypePostback,
				Payload: stringField(fields, "payload"),
			})
		case ButtonWebURL:
			buttons = append(buttons, WebURLButton{
				Title: stringField(fields, "title"),
				Type:  ButtonTypeWebURL,
				URL:   stringField(fields, "url"),
			})
		case ButtonUnresolvable:
			dropped++
		}
	}
	return buttons, dropped
}

// stringField reads a string field, rendering scalar YAML values the way a GraphQL
// String would. Maps and lists yield "".
func stringField(fields map[string]interface{}, name string) string {
	switch v := fields[name].(type) {
	case string:
		return v
	case int, int64, uint64, float64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}
