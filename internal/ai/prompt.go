package ai

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

const promptHeader = `You are a MongoDB performance expert. Analyze the MongoDB operation below.
Report what makes it slow or fast in "performanceAnalysis", with severity info, warning or danger.
Propose indexes in "suggestedIndexes", each as a createIndex command with a short rationale. Take the ESR rule (equality, sort, range) into account.
Put a rewritten, faster version of the operation in "suggestedQueryText", or an empty string when it is already optimal.

Operation:
`

// BuildPrompt renders the instruction and the operation as indented JSON
func BuildPrompt(op OperationPayload) (string, error) {
	js, err := json.MarshalIndent(op, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal operation: %w", err)
	}
	return promptHeader + "```json\n" + string(js) + "\n```\n", nil
}

// responseSchema constrains the model to the Commentary shape
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"performanceAnalysis": {
				Type:        genai.TypeArray,
				Description: "The performance analysis of the operation",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"severity": {Type: genai.TypeString, Enum: []string{"info", "warning", "danger"}},
						"message":  {Type: genai.TypeString},
					},
					Required: []string{"severity", "message"},
				},
			},
			"suggestedIndexes": {
				Type:        genai.TypeArray,
				Description: "Indexes that could improve the operation and why",
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"indexDefinitionText": {Type: genai.TypeString},
						"rationaleMessage":    {Type: genai.TypeString},
					},
					Required: []string{"indexDefinitionText", "rationaleMessage"},
				},
			},
			"suggestedQueryText": {
				Type:        genai.TypeString,
				Description: "A faster equivalent of the operation",
			},
		},
		Required:         []string{"performanceAnalysis", "suggestedIndexes", "suggestedQueryText"},
		PropertyOrdering: []string{"performanceAnalysis", "suggestedIndexes", "suggestedQueryText"},
	}
}
