package dialogue

import "github.com/haasonsaas/rapport/pkg/models"

// policy says which pipeline stages run for a dialogue kind.
type policy struct {
	// generate runs the model to produce the reply.
	generate bool
	// relationships feeds the relationship engine after the turn.
	relationships bool
	// tools permits the decide/execute loop.
	tools bool
}

// policyFor maps a dialogue kind onto its pipeline shape. Human-to-human
// kinds transcribe and update relationships only; self reflection talks
// to the model but never consults relationships or tools. Unknown kinds
// get the full pipeline.
func policyFor(kind models.DialogueKind) policy {
	switch kind {
	case models.DialogueAISelfReflection:
		return policy{generate: true}
	case models.DialogueHumanPrivate, models.DialogueHumanGroup:
		return policy{relationships: true}
	default:
		return policy{generate: true, relationships: true, tools: true}
	}
}
