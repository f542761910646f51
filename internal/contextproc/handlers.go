package contextproc

// generalHandler keeps arbitrary key/value pairs. It accepts every
// kind, which makes it the fallback for unregistered kinds.
type generalHandler struct{}

func (generalHandler) Accepts(Kind) bool { return true }

func (generalHandler) Process(raw map[string]any) (*Context, error) {
	ctx := &Context{Kind: KindGeneral, Fields: map[string]string{}}
	for _, key := range sortedKeys(raw) {
		ctx.Fields[key] = coerce(raw[key])
	}
	return ctx, nil
}

// userProfileHandler normalizes the identity subset: name, identifiers,
// preferences, location, recent actions.
type userProfileHandler struct{}

func (userProfileHandler) Accepts(kind Kind) bool { return kind == KindUserProfile }

func (userProfileHandler) Process(raw map[string]any) (*Context, error) {
	ctx := &Context{
		Kind:   KindUserProfile,
		Fields: map[string]string{},
		Lists:  map[string][]string{},
	}
	if v, ok := raw["name"]; ok {
		ctx.Fields["name"] = coerce(v)
	}
	if v, ok := raw["location"]; ok {
		ctx.Fields["location"] = coerce(v)
	}
	if v, ok := raw["identifiers"]; ok {
		ctx.Lists["identifiers"] = coerceList(v)
	}
	if v, ok := raw["preferences"]; ok {
		ctx.Lists["preferences"] = coerceList(v)
	}
	if v, ok := raw["recent_actions"]; ok {
		ctx.Lists["recent_actions"] = coerceList(v)
	}
	return ctx, nil
}

// domainHandler normalizes a topic plus its knowledge bullets.
type domainHandler struct{}

func (domainHandler) Accepts(kind Kind) bool { return kind == KindDomain }

func (domainHandler) Process(raw map[string]any) (*Context, error) {
	ctx := &Context{
		Kind:   KindDomain,
		Fields: map[string]string{},
		Lists:  map[string][]string{},
	}
	if v, ok := raw["topic"]; ok {
		ctx.Fields["topic"] = coerce(v)
	}
	if v, ok := raw["knowledge"]; ok {
		ctx.Lists["knowledge"] = coerceList(v)
	}
	return ctx, nil
}

// systemHandler normalizes a state map and a feature list.
type systemHandler struct{}

func (systemHandler) Accepts(kind Kind) bool { return kind == KindSystem }

func (systemHandler) Process(raw map[string]any) (*Context, error) {
	ctx := &Context{
		Kind:  KindSystem,
		Lists: map[string][]string{},
	}
	if v, ok := raw["state"]; ok {
		ctx.Lists["state"] = coerceList(v)
	}
	if v, ok := raw["features"]; ok {
		ctx.Lists["features"] = coerceList(v)
	}
	return ctx, nil
}

// dialogueHistoryHandler normalizes recent turns, keeping at most the
// last ten, plus the latest user utterance for continuity detection.
type dialogueHistoryHandler struct{}

func (dialogueHistoryHandler) Accepts(kind Kind) bool { return kind == KindDialogueHistory }

func (dialogueHistoryHandler) Process(raw map[string]any) (*Context, error) {
	ctx := &Context{Kind: KindDialogueHistory}
	if v, ok := raw["latest"]; ok {
		ctx.Latest = coerce(v)
	}

	entries, ok := raw["turns"].([]any)
	if !ok {
		if typed, isTyped := raw["turns"].([]HistoryTurn); isTyped {
			ctx.Turns = trimTurns(typed)
			return ctx, nil
		}
		return ctx, nil
	}

	turns := make([]HistoryTurn, 0, len(entries))
	for _, entry := range entries {
		switch typed := entry.(type) {
		case HistoryTurn:
			turns = append(turns, typed)
		case map[string]any:
			turn := HistoryTurn{}
			if v, ok := typed["speaker"]; ok {
				turn.Speaker = coerce(v)
			} else if v, ok := typed["role"]; ok {
				turn.Speaker = coerce(v)
			}
			if v, ok := typed["text"]; ok {
				turn.Text = coerce(v)
			} else if v, ok := typed["content"]; ok {
				turn.Text = coerce(v)
			}
			turns = append(turns, turn)
		default:
			turns = append(turns, HistoryTurn{Text: coerce(entry)})
		}
	}
	ctx.Turns = trimTurns(turns)
	return ctx, nil
}

func trimTurns(turns []HistoryTurn) []HistoryTurn {
	if len(turns) > maxHistoryTurns {
		turns = turns[len(turns)-maxHistoryTurns:]
	}
	return turns
}

// locationHandler normalizes coarse user location.
type locationHandler struct{}

func (locationHandler) Accepts(kind Kind) bool { return kind == KindLocation }

func (locationHandler) Process(raw map[string]any) (*Context, error) {
	ctx := &Context{Kind: KindLocation, Fields: map[string]string{}}
	for _, key := range []string{"city", "region", "country", "coordinates"} {
		if v, ok := raw[key]; ok {
			ctx.Fields[key] = coerce(v)
		}
	}
	return ctx, nil
}
