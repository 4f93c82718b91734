package adaptation

import (
	"time"

	"github.com/AgeeKey/mirai-agent-sub000/internal/domain/models"
)

// SpeedProfile controls how aggressively parameters move: Step is the
// fraction of a parameter's allowed range covered per adaptation, Cooldown
// the minimum spacing between successive adaptations for one strategy.
type SpeedProfile struct {
	Step     float64
	Cooldown time.Duration
}

var speedProfiles = map[models.AdaptationSpeed]SpeedProfile{
	models.SpeedSlow:     {Step: 0.05, Cooldown: 6 * time.Hour},
	models.SpeedMedium:   {Step: 0.10, Cooldown: time.Hour},
	models.SpeedFast:     {Step: 0.25, Cooldown: 15 * time.Minute},
	models.SpeedReactive: {Step: 0.40, Cooldown: 30 * time.Second},
}

// ProfileFor resolves a speed setting; unknown values fall back to MEDIUM.
func ProfileFor(s models.AdaptationSpeed) SpeedProfile {
	if p, ok := speedProfiles[s]; ok {
		return p
	}
	return speedProfiles[models.SpeedMedium]
}
