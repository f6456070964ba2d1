package research

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"aletheia/models"
)

const (
	DefaultEvidenceCap = 30

	curatorWeightScore     = 0.6
	curatorWeightAuthority = 0.25
	curatorWeightRecency   = 0.15

	recencyHalfLife = 30 * 24 * time.Hour
)

// authorityByDomain holds known-good domains; suffix rules cover the rest
var authorityByDomain = map[string]float64{
	"nature.com":        0.95,
	"science.org":       0.95,
	"nih.gov":           0.95,
	"who.int":           0.9,
	"arxiv.org":         0.85,
	"acm.org":           0.85,
	"ieee.org":          0.85,
	"springer.com":      0.85,
	"sciencedirect.com": 0.85,
	"reuters.com":       0.8,
	"apnews.com":        0.8,
	"bbc.co.uk":         0.75,
	"nytimes.com":       0.75,
	"wikipedia.org":     0.6,
	"medium.com":        0.35,
	"reddit.com":        0.3,
	"quora.com":         0.25,
}

// authority is a domain heuristic in [0,1]
func authority(src models.Source) float64 {
	if strings.HasPrefix(src.URL, "doc://") {
		return 0.7
	}
	host := src.Domain()
	if host == "" {
		return 0.3
	}
	for d := host; d != ""; {
		if w, ok := authorityByDomain[d]; ok {
			return w
		}
		i := strings.Index(d, ".")
		if i < 0 {
			break
		}
		d = d[i+1:]
	}
	switch {
	case strings.HasSuffix(host, ".gov"), strings.HasSuffix(host, ".edu"), strings.Contains(host, ".gov."), strings.Contains(host, ".ac."):
		return 0.9
	case strings.HasSuffix(host, ".int"):
		return 0.85
	case strings.HasSuffix(host, ".org"):
		return 0.6
	}
	return 0.5
}

// recency decays with a 30-day half-life measured against ref
func recency(src models.Source, ref time.Time) float64 {
	t := src.FetchedAt
	if src.PublishedAt != nil && !src.PublishedAt.IsZero() {
		t = *src.PublishedAt
	}
	if t.IsZero() {
		return 0
	}
	age := ref.Sub(t)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(recencyHalfLife))
}

// preferDuplicate reports whether a should replace b among evidence sharing a content hash.
// Retrieval ids are random, so the sub-task id decides ties before them.
func preferDuplicate(a, b models.Evidence) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.SubTaskID != b.SubTaskID {
		return a.SubTaskID < b.SubTaskID
	}
	return a.ID < b.ID
}

// Curate dedupes by content hash, re-ranks globally, truncates to cap and
// assigns SRC1..SRCn in final order. The input slice and its elements are not modified.
func Curate(all []models.Evidence, capacity int, iteration int) models.EvidenceSet {
	if capacity <= 0 {
		capacity = DefaultEvidenceCap
	}

	best := make(map[string]models.Evidence, len(all))
	var ref time.Time
	for _, ev := range all {
		if ev.Source.FetchedAt.After(ref) {
			ref = ev.Source.FetchedAt
		}
		cur, seen := best[ev.ContentHash]
		if !seen || preferDuplicate(ev, cur) {
			best[ev.ContentHash] = ev
		}
	}

	type ranked struct {
		ev    models.Evidence
		final float64
	}
	pool := make([]ranked, 0, len(best))
	for _, ev := range best {
		cp := ev.Copy()
		final := curatorWeightScore*ev.Score +
			curatorWeightAuthority*authority(ev.Source) +
			curatorWeightRecency*recency(ev.Source, ref)
		cp.Score = clamp01(final)
		pool = append(pool, ranked{ev: cp, final: final})
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].final != pool[j].final {
			return pool[i].final > pool[j].final
		}
		return pool[i].ev.ContentHash < pool[j].ev.ContentHash
	})
	if len(pool) > capacity {
		pool = pool[:capacity]
	}

	items := make([]models.Evidence, len(pool))
	for i, r := range pool {
		r.ev.CitationKey = fmt.Sprintf("SRC%d", i+1)
		items[i] = r.ev
	}
	return models.EvidenceSet{
		Iteration: iteration,
		Items:     items,
		Cap:       capacity,
		CreatedAt: ref,
	}
}
