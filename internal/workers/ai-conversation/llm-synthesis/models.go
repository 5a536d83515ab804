// internal/workers/ai-conversation/llm-synthesis/models.go
package llmsynthesis

import "crm-assistant/internal/models"

// Input is what the synthesizer renders into an answer.
type Input struct {
	Utterance    string       `json:"utterance"`
	FunctionName string       `json:"functionName"`
	Data         models.Value `json:"data"`
}
