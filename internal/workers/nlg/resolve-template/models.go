// internal/workers/nlg/resolve-template/models.go
package resolvetemplate

import "nlg-workers/internal/nlg"

// Input is the NLG webhook body carried as process variables.
type Input = nlg.Query

// Output is written back to the process as nlgResponse and nlgDroppedButtons.
type Output struct {
	Response       nlg.TypedPayload `json:"response"`
	DroppedButtons int              `json:"droppedButtons"`
}
