package relationship

import (
	"context"
	"math"
	"time"

	"github.com/haasonsaas/rapport/internal/errs"
	"github.com/haasonsaas/rapport/pkg/models"
)

// interactionTarget is the recent-window round count at which the
// interaction factor saturates.
const interactionTarget = 200

// computeIntensity derives the three factors and their weighted score
// from a record. The caller holds the record lock.
func (e *Engine) computeIntensity(rec *models.Relationship, now time.Time) *models.RelationshipIntensity {
	fi := math.Min(float64(recentRounds(rec.DailyRounds, now))/interactionTarget, 1)

	fe := 0.0
	if rec.TotalRounds > 0 {
		fe = math.Min(float64(rec.ResonanceCount)/float64(rec.TotalRounds), 1)
	}

	fc := math.Min(
		0.05*float64(rec.DiaryCount)+
			0.05*float64(rec.CoCreationCount)+
			0.1*float64(rec.GiftCount), 1)

	w := e.cfg.Weights
	score := w.Interaction*fi + w.Emotional*fe + w.Collaboration*fc
	score = math.Max(0, math.Min(score, 1))

	return &models.RelationshipIntensity{
		RelationshipID: rec.ID,
		Interaction:    fi,
		Emotional:      fe,
		Collaboration:  fc,
		Score:          score,
		Level:          levelFor(score),
		UpdatedAt:      now,
	}
}

// levelFor maps a score onto its band. Band edges belong to the lower
// band: a score of exactly 0.2 is still stranger.
func levelFor(score float64) models.IntensityLevel {
	switch {
	case score <= 0.2:
		return models.LevelStranger
	case score <= 0.4:
		return models.LevelAcquaintance
	case score <= 0.6:
		return models.LevelFriend
	case score <= 0.8:
		return models.LevelClose
	default:
		return models.LevelIntimate
	}
}

// Intensity returns the stored intensity for a record id, recomputing
// it first so the score reflects the current activity window.
func (e *Engine) Intensity(ctx context.Context, id string) (*models.RelationshipIntensity, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(errs.KindCancelled, "relationship.Intensity", err)
	}
	e.mu.RLock()
	lock, rec := e.locks[id], e.records[id]
	e.mu.RUnlock()
	if rec == nil {
		return nil, errs.Errorf(errs.KindNotFound, "relationship.Intensity",
			"relationship %q not found", id)
	}
	now := e.nowFunc()
	lock.Lock()
	intensity := e.computeIntensity(rec, now)
	lock.Unlock()

	e.mu.Lock()
	e.intensities[id] = intensity
	e.mu.Unlock()
	return cloneIntensity(intensity), nil
}

// IntensityFor resolves the pair and returns its current intensity.
func (e *Engine) IntensityFor(ctx context.Context, aID, bID string) (*models.RelationshipIntensity, error) {
	_, rec, ok := e.lockFor(Party{ID: aID}, Party{ID: bID}, false)
	if !ok {
		return nil, errs.Errorf(errs.KindNotFound, "relationship.IntensityFor",
			"no relationship between %q and %q", aID, bID)
	}
	return e.Intensity(ctx, rec.ID)
}

func cloneIntensity(in *models.RelationshipIntensity) *models.RelationshipIntensity {
	cp := *in
	return &cp
}
