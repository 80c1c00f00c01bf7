package diagnosis

import "strings"

const instructionPrompt = `You are a pharmacy assistant. Read the patient's symptoms below and reply with ONLY a JSON object, no prose and no code fences, in exactly this shape:
{"diagnosis": "<short likely diagnosis>", "drugs": [{"name": "<generic drug name>", "quantity": <integer >= 1>}]}
Rules:
- At most 6 entries in "drugs".
- Use generic (international non-proprietary) drug names.
- "quantity" is the number of packs to dispense.
Patient symptoms:
`

// BuildPrompt appends the patient's text to the fixed instruction.
func BuildPrompt(symptoms string) string {
	return instructionPrompt + strings.TrimSpace(symptoms)
}
