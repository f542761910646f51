package relationship

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/rapport/pkg/models"
)

// Tone bands for the prompt block, in rough order of closeness.
const (
	bandFirstMeet           = "first_meet"
	bandResonance           = "resonance"
	bandEmotionalLink       = "emotional_link"
	bandWarming             = "warming"
	bandMutualUnderstanding = "mutual_understanding"
	bandDeepResonance       = "deep_resonance"
	bandSoulCompanion       = "soul_companion"
)

// ContextFor returns the tone-shaping paragraph for a pair, tagged with
// the band the relationship classifies into. Pairs with no history get
// an empty string; callers skip the block in that case.
func (e *Engine) ContextFor(ctx context.Context, aID, bID string) string {
	if ctx.Err() != nil {
		return ""
	}
	lock, rec, ok := e.lockFor(Party{ID: aID}, Party{ID: bID}, false)
	if !ok {
		return ""
	}
	now := e.nowFunc()
	lock.Lock()
	e.refreshStatusLocked(rec, now)
	intensity := e.computeIntensity(rec, now)
	snap := cloneRecord(rec)
	lock.Unlock()

	band := e.classifyBand(snap, intensity.Score, now)
	return fmt.Sprintf("[relationship: %s] %s", band, bandGuidance(band, snap))
}

// classifyBand picks the tone band from the record's history shape.
// Broken pairs and pairs with almost no history read as a first meeting;
// pairs idle past the cooling threshold need re-warming; everyone else
// bands by score.
func (e *Engine) classifyBand(rec *models.Relationship, score float64, now time.Time) string {
	if rec.Status == models.RelationshipBroken || rec.TotalRounds <= 2 {
		return bandFirstMeet
	}
	if !rec.LastActiveAt.IsZero() {
		idleDays := int(now.Sub(rec.LastActiveAt).Hours() / 24)
		if idleDays > e.cfg.CoolingThresholdDays {
			return bandWarming
		}
	}
	switch levelFor(score) {
	case models.LevelStranger:
		return bandResonance
	case models.LevelAcquaintance:
		return bandEmotionalLink
	case models.LevelFriend:
		return bandMutualUnderstanding
	case models.LevelClose:
		return bandDeepResonance
	default:
		return bandSoulCompanion
	}
}

// bandGuidance renders the tone paragraph for a band.
func bandGuidance(band string, rec *models.Relationship) string {
	pair := normalizedPair(rec)
	switch band {
	case bandFirstMeet:
		return fmt.Sprintf("This is essentially a first meeting between %s. Be welcoming and curious, introduce yourself lightly, and avoid presuming shared history.", pair)
	case bandResonance:
		return fmt.Sprintf("%s are still getting acquainted over %d rounds. Look for small points of common ground and let rapport build at its own pace.", pair, rec.TotalRounds)
	case bandEmotionalLink:
		return fmt.Sprintf("An emotional link is forming between %s across %d rounds. Acknowledge feelings when they surface and stay attentive.", pair, rec.TotalRounds)
	case bandWarming:
		return fmt.Sprintf("The connection between %s has gone quiet for a while. Warm it back up gently; pick up familiar threads without pressure.", pair)
	case bandMutualUnderstanding:
		return fmt.Sprintf("%s understand each other well after %d rounds. Use a familiar, easy tone and reference shared history where it helps.", pair, rec.TotalRounds)
	case bandDeepResonance:
		return fmt.Sprintf("%s share a deep resonance built over %d rounds. Speak candidly, recall what matters to them, and invest in the exchange.", pair, rec.TotalRounds)
	default:
		return fmt.Sprintf("%s are soul companions with %d rounds of shared history. Be fully present, direct, and generous; this bond carries real weight.", pair, rec.TotalRounds)
	}
}
