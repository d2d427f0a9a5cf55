package fusion

import (
	"math"
	"sort"
	"strings"

	"github.com/igolaizola/hackjam/pkg/mood"
)

const (
	maxGenres = 4
	maxTags   = 6

	minTempo = 60
	maxTempo = 200
)

// Neutral features used when no profile contributes samples.
var Neutral = Features{
	Tempo:        110,
	Energy:       0.55,
	Danceability: 0.55,
	Valence:      0.5,
}

// Features are audio features averaged over sampled tracks.
type Features struct {
	Tempo        float64 `json:"tempo"`
	Energy       float64 `json:"energy"`
	Danceability float64 `json:"danceability"`
	Valence      float64 `json:"valence"`
}

// TasteProfile is the listening summary of one user.
type TasteProfile struct {
	Genres   []string `json:"genres"`
	Features Features `json:"features"`
	// Samples is the number of tracks the features were averaged over.
	Samples int `json:"count"`
}

// Explain describes how a prompt was derived.
type Explain struct {
	TopGenres []string `json:"topGenres"`
	Adjusted  Features `json:"adjusted"`
}

// Prompt is the fused generation prompt.
type Prompt struct {
	Tags         string   `json:"tags"`
	Instrumental bool     `json:"make_instrumental"`
	Features     Features `json:"features"`
	Explain      Explain  `json:"explain"`
}

// Options tune a fusion.
type Options struct {
	// Instrumental overrides the preset default when set.
	Instrumental *bool
	// Tags are added after the top genres and before the mood tags.
	Tags []string
}

// Fuse combines the taste profiles of several users with a mood preset.
func Fuse(profiles []TasteProfile, preset mood.Preset, opts Options) Prompt {
	top := TopGenres(profiles, maxGenres)

	candidates := append([]string{}, top...)
	candidates = append(candidates, opts.Tags...)
	candidates = append(candidates, preset.Tags...)
	tags := Dedup(candidates)
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}

	instrumental := preset.Instrumental
	if opts.Instrumental != nil {
		instrumental = *opts.Instrumental
	}

	adjusted := Adjust(Average(profiles), preset.Delta)
	return Prompt{
		Tags:         strings.Join(tags, ", "),
		Instrumental: instrumental,
		Features:     adjusted,
		Explain: Explain{
			TopGenres: top,
			Adjusted:  adjusted,
		},
	}
}

// TopGenres ranks genres by the number of users that listen to them.
// Each user counts once per genre and ties keep first-seen order.
func TopGenres(profiles []TasteProfile, n int) []string {
	count := map[string]int{}
	order := []string{}
	for _, p := range profiles {
		seen := map[string]struct{}{}
		for _, g := range p.Genres {
			key := strings.ToLower(strings.TrimSpace(g))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			if _, ok := count[key]; !ok {
				order = append(order, key)
			}
			count[key]++
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return count[order[i]] > count[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// Average returns the mean features over profiles with samples.
func Average(profiles []TasteProfile) Features {
	var sum Features
	var n float64
	for _, p := range profiles {
		if p.Samples < 1 {
			continue
		}
		sum.Tempo += p.Features.Tempo
		sum.Energy += p.Features.Energy
		sum.Danceability += p.Features.Danceability
		sum.Valence += p.Features.Valence
		n++
	}
	if n == 0 {
		return Neutral
	}
	return Features{
		Tempo:        sum.Tempo / n,
		Energy:       sum.Energy / n,
		Danceability: sum.Danceability / n,
		Valence:      sum.Valence / n,
	}
}

// Adjust applies a mood delta and clamps the result. Valence is informational
// and left untouched.
func Adjust(f Features, d mood.Delta) Features {
	return Features{
		Tempo:        clamp(math.Round(f.Tempo+d.Tempo), minTempo, maxTempo),
		Energy:       clamp(f.Energy+d.Energy, 0, 1),
		Danceability: clamp(f.Danceability+d.Danceability, 0, 1),
		Valence:      f.Valence,
	}
}

// Dedup removes empty and repeated entries keeping the first occurrence.
func Dedup(values []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
