// internal/nlg/query.go
package nlg

// Query is the NLG webhook body: a template name plus the conversation asking for it.
// Preview callers send only template and arguments.
type Query struct {
	Template  string         `json:"template"`
	Arguments QueryArguments `json:"arguments"`
	Tracker   *QueryTracker  `json:"tracker,omitempty"`
	Channel   *QueryChannel  `json:"channel,omitempty"`
}

type QueryArguments struct {
	Language  string `json:"language,omitempty"`
	ProjectID string `json:"projectId"`
}

type QueryTracker struct {
	SenderID string  `json:"sender_id,omitempty"`
	Slots    SlotMap `json:"slots,omitempty"`
}

type QueryChannel struct {
	Name string `json:"name"`
}

// QuerySchema is the JSON schema both transports validate a Query against.
const QuerySchema = `{
	"type": "object",
	"required": ["template", "arguments"],
	"properties": {
		"template": {"type": "string", "minLength": 1},
		"arguments": {
			"type": "object",
			"properties": {
				"language": {"type": "string"},
				"projectId": {"type": "string"}
			}
		},
		"tracker": {
			"type": "object",
			"properties": {
				"sender_id": {"type": "string"},
				"slots": {"type": ["object", "null"]}
			}
		},
		"channel": {
			"type": "object",
			"properties": {
				"name": {"type": "string"}
			}
		}
	}
}`

// Request turns the query into a resolution. A tracker or a channel means a live conversation
// is asking, so the call is a runtime call.
func (q Query) Request() Request {
	req := Request{
		Template:  q.Template,
		ProjectID: q.Arguments.ProjectID,
		Language:  q.Arguments.Language,
		Call:      CallPreview,
	}
	if q.Tracker != nil {
		req.Slots = q.Tracker.Slots
		req.Call = CallRuntime
	}
	if q.Channel != nil {
		req.Channel = q.Channel.Name
		req.Call = CallRuntime
	}
	return req
}
