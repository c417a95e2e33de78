// Zapfeed - Personalized Feed Recommendation Backend
// Copyright 2026 Zapfeed Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zapsocial/zapfeed

// Package scoring implements the candidate scoring model: a weighted
// blend of tag relevance, author affinity, popularity, and freshness,
// boosted for followed creators and perturbed by a small jitter so two
// generations of the same feed do not order identically.
package scoring

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/zapsocial/zapfeed/internal/models"
)

// Model weights. The tag/author and followed components carry the most
// signal; popularity and freshness fill in for thin profiles.
const (
	weightTagAuthor = 0.25
	weightPop       = 0.20
	weightFresh     = 0.20
	weightFollowed  = 0.25

	// followedMultiplier boosts items by creators the user follows.
	followedMultiplier = 2.5

	// jitterWeight folds the jitter into the final score: a jitter of
	// 1.1 moves the score by only +1%.
	jitterWeight = 0.10

	// minFreshness floors the decay so old items stay rankable.
	minFreshness = 0.2

	repostWeight   = 1.5
	viewWeight     = 0.5
	freshnessHalfL = 2.0 // days to decay to 1/e
)

// TagRelevance measures overlap between the item's tags and the user's
// tag affinity, averaged over the item's tag count so heavily tagged
// items are not favored.
func TagRelevance(tags []string, affinity map[string]float64) float64 {
	if len(tags) == 0 || len(affinity) == 0 {
		return 0
	}
	sum := 0.0
	for _, tag := range tags {
		if w, ok := affinity[tag]; ok && w > 0 {
			sum += math.Log1p(w)
		}
	}
	return sum / float64(len(tags))
}

// AuthorLiking measures the user's accumulated affinity for the author.
func AuthorLiking(authorID string, affinity map[string]float64) float64 {
	w, ok := affinity[authorID]
	if !ok || w <= 0 {
		return 0
	}
	return math.Log1p(w)
}

// Popularity is a log-compressed engagement signal. Reposts weigh more
// than likes; views are double-compressed so view-farming cannot swamp
// genuine engagement.
func Popularity(likes, reposts, views int64) float64 {
	raw := 0.1 + float64(likes) + repostWeight*float64(reposts) + viewWeight*math.Log1p(float64(views))
	return math.Log(raw)
}

// Freshness decays exponentially with item age in days, floored at
// minFreshness.
func Freshness(createdAt, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Max(minFreshness, math.Exp(-ageDays/freshnessHalfL))
}

// Scorer scores candidates for one generation pass. Not safe for
// concurrent use; create one per generation.
type Scorer struct {
	rng *rand.Rand
}

// NewScorer creates a scorer with the given jitter source. A nil rng
// gets a time-seeded source; tests pass a fixed seed for determinism.
func NewScorer(rng *rand.Rand) *Scorer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scorer{rng: rng}
}

// jitter returns a uniform value in [0.9, 1.1).
func (s *Scorer) jitter() float64 {
	return 0.9 + s.rng.Float64()*0.2
}

// Score computes the final score for one candidate against the profile.
func (s *Scorer) Score(c *models.ScoredCandidate, profile *models.UserProfile, now time.Time) float64 {
	tagRel := TagRelevance(c.Tags, profile.TagAffinity)
	authorLiking := AuthorLiking(c.AuthorID, profile.AuthorAffinity)
	pop := Popularity(c.LikeCount, c.RepostCount, c.ViewCount)
	fresh := Freshness(c.CreatedAt, now)

	followedBit := 0.0
	multiplier := 1.0
	if profile.Follows(c.AuthorID) {
		followedBit = 1.0
		multiplier = followedMultiplier
	}

	base := (tagRel+authorLiking)*weightTagAuthor +
		pop*weightPop +
		fresh*weightFresh +
		followedBit*weightFollowed

	return base * multiplier * (1 + (s.jitter()-1)*jitterWeight)
}

// ScoreAll scores every candidate in place.
func (s *Scorer) ScoreAll(cands []*models.ScoredCandidate, profile *models.UserProfile, now time.Time) {
	for _, c := range cands {
		c.Score = s.Score(c, profile, now)
	}
}

// Rank sorts candidates by score descending. The sort is stable so
// equal scores keep their incoming order.
func Rank(cands []*models.ScoredCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Score > cands[j].Score
	})
}

// EngagementScore is the curated-batch score: raw engagement with a
// mild recency boost, no personalization and no jitter so reruns for
// the same day are reproducible.
func EngagementScore(likes, reposts, views int64, createdAt, now time.Time) float64 {
	engagement := float64(likes) + repostWeight*float64(reposts) + viewWeight*math.Log1p(float64(views))
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	recencyBoost := 1 + math.Exp(-ageHours/48)*0.3
	return engagement * recencyBoost
}
