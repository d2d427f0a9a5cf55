package spotify

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/igolaizola/hackjam/pkg/fusion"
	"github.com/zmb3/spotify/v2"
)

const (
	featuresChunk = 100
	artistsChunk  = 50
	maxSeeds      = 5
)

type audioFeaturesResponse struct {
	AudioFeatures []*spotify.AudioFeatures `json:"audio_features"`
}

type artistsResponse struct {
	Artists []*spotify.FullArtist `json:"artists"`
}

type recommendationsResponse struct {
	Tracks []spotify.SimpleTrack `json:"tracks"`
}

// Taste builds the listening profile of the user owning the token.
// Top artists give the genres and top tracks the audio feature centroid.
// Accounts without top data fall back to recently played tracks, and if
// only genres are known the features are estimated from recommendations.
func (c *Client) Taste(ctx context.Context, token string) (*fusion.TasteProfile, error) {
	var artists spotify.FullArtistPage
	if err := c.do(ctx, token, "me/top/artists?limit=20&time_range=short_term", &artists); err != nil {
		return nil, fmt.Errorf("spotify: couldn't get top artists: %w", err)
	}
	var genres []string
	for _, a := range artists.Artists {
		genres = append(genres, artistGenres(&a)...)
	}

	var tracks spotify.FullTrackPage
	if err := c.do(ctx, token, "me/top/tracks?limit=20&time_range=short_term", &tracks); err != nil {
		return nil, fmt.Errorf("spotify: couldn't get top tracks: %w", err)
	}
	var ids []string
	for _, t := range tracks.Tracks {
		ids = append(ids, string(t.ID))
	}
	features, count, err := c.centroid(ctx, token, validIDs(ids))
	if err != nil {
		return nil, err
	}

	if len(genres) == 0 && count == 0 {
		genres, features, count, err = c.recent(ctx, token)
		if err != nil {
			return nil, err
		}
	}

	if count == 0 && len(genres) > 0 {
		features, count, err = c.fromRecommendations(ctx, token, genres)
		if err != nil {
			return nil, err
		}
	}

	return &fusion.TasteProfile{
		Genres:   genres,
		Features: features,
		Samples:  count,
	}, nil
}

// Recent builds a listening profile from the recently played tracks only.
func (c *Client) Recent(ctx context.Context, token string) (*fusion.TasteProfile, error) {
	genres, features, count, err := c.recent(ctx, token)
	if err != nil {
		return nil, err
	}
	if genres == nil {
		genres = []string{}
	}
	return &fusion.TasteProfile{
		Genres:   genres,
		Features: features,
		Samples:  count,
	}, nil
}

func (c *Client) recent(ctx context.Context, token string) ([]string, fusion.Features, int, error) {
	var recent spotify.RecentlyPlayedResult
	if err := c.do(ctx, token, "me/player/recently-played?limit=50", &recent); err != nil {
		return nil, fusion.Features{}, 0, fmt.Errorf("spotify: couldn't get recently played: %w", err)
	}
	if len(recent.Items) == 0 {
		return nil, fusion.Features{}, 0, nil
	}

	var trackIDs, artistIDs []string
	for _, it := range recent.Items {
		trackIDs = append(trackIDs, string(it.Track.ID))
		for _, a := range it.Track.Artists {
			artistIDs = append(artistIDs, string(a.ID))
		}
	}
	trackIDs = unique(validIDs(trackIDs))
	artistIDs = unique(validIDs(artistIDs))

	var genres []string
	for _, chunk := range chunks(artistIDs, artistsChunk) {
		var resp artistsResponse
		u := "artists?ids=" + url.QueryEscape(strings.Join(chunk, ","))
		if err := c.do(ctx, token, u, &resp); err != nil {
			if ctx.Err() != nil {
				return nil, fusion.Features{}, 0, ctx.Err()
			}
			c.log("spotify: skipping artists chunk: %v", err)
			continue
		}
		for _, a := range resp.Artists {
			genres = append(genres, artistGenres(a)...)
		}
	}

	features, count, err := c.centroid(ctx, token, trackIDs)
	if err != nil {
		return nil, fusion.Features{}, 0, err
	}
	return genres, features, count, nil
}

func (c *Client) fromRecommendations(ctx context.Context, token string, genres []string) (fusion.Features, int, error) {
	var seeds []string
	for _, g := range genres {
		fields := strings.Fields(g)
		if len(fields) == 0 {
			continue
		}
		seeds = append(seeds, strings.ToLower(fields[0]))
	}
	seeds = unique(seeds)
	if len(seeds) > maxSeeds {
		seeds = seeds[:maxSeeds]
	}
	if len(seeds) == 0 {
		return fusion.Features{}, 0, nil
	}

	var resp recommendationsResponse
	u := "recommendations?limit=50&seed_genres=" + url.QueryEscape(strings.Join(seeds, ","))
	if err := c.do(ctx, token, u, &resp); err != nil {
		if ctx.Err() != nil {
			return fusion.Features{}, 0, ctx.Err()
		}
		c.log("spotify: couldn't get recommendations: %v", err)
		return fusion.Features{}, 0, nil
	}
	var ids []string
	for _, t := range resp.Tracks {
		ids = append(ids, string(t.ID))
	}
	return c.centroid(ctx, token, validIDs(ids))
}

// centroid averages the audio features of the given tracks. Chunks that fail
// are skipped.
func (c *Client) centroid(ctx context.Context, token string, ids []string) (fusion.Features, int, error) {
	var sum fusion.Features
	var count int
	for _, chunk := range chunks(ids, featuresChunk) {
		var resp audioFeaturesResponse
		u := "audio-features?ids=" + url.QueryEscape(strings.Join(chunk, ","))
		if err := c.do(ctx, token, u, &resp); err != nil {
			if ctx.Err() != nil {
				return fusion.Features{}, 0, ctx.Err()
			}
			c.log("spotify: skipping audio features chunk: %v", err)
			continue
		}
		for _, f := range resp.AudioFeatures {
			if f == nil {
				continue
			}
			sum.Tempo += float64(f.Tempo)
			sum.Energy += float64(f.Energy)
			sum.Danceability += float64(f.Danceability)
			sum.Valence += float64(f.Valence)
			count++
		}
	}
	if count == 0 {
		return fusion.Features{}, 0, nil
	}
	n := float64(count)
	return fusion.Features{
		Tempo:        sum.Tempo / n,
		Energy:       sum.Energy / n,
		Danceability: sum.Danceability / n,
		Valence:      sum.Valence / n,
	}, count, nil
}

// Profile is the public part of a Spotify account.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"`
}

// Summary describes a user's taste for display.
type Summary struct {
	Profile          Profile         `json:"profile"`
	TopGenres        []string        `json:"top_genres"`
	FeaturesCentroid fusion.Features `json:"features_centroid"`
	Samples          int             `json:"count"`
}

// Me returns the profile of the user owning the token.
func (c *Client) Me(ctx context.Context, token string) (*Profile, error) {
	var me spotify.PrivateUser
	if err := c.do(ctx, token, "me", &me); err != nil {
		return nil, fmt.Errorf("spotify: couldn't get profile: %w", err)
	}
	return &Profile{
		ID:          me.ID,
		DisplayName: me.DisplayName,
		Email:       me.Email,
		Country:     me.Country,
		Product:     me.Product,
	}, nil
}

// Brief is a lightweight view of an account.
type Brief struct {
	Profile struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"profile"`
	TopGenres []string `json:"top_genres"`
}

// Brief returns the profile and up to five distinct genres of the user's
// ten top artists, in order of appearance.
func (c *Client) Brief(ctx context.Context, token string) (*Brief, error) {
	me, err := c.Me(ctx, token)
	if err != nil {
		return nil, err
	}
	var artists spotify.FullArtistPage
	if err := c.do(ctx, token, "me/top/artists?limit=10&time_range=short_term", &artists); err != nil {
		return nil, fmt.Errorf("spotify: couldn't get top artists: %w", err)
	}
	var genres []string
	for _, a := range artists.Artists {
		genres = append(genres, artistGenres(&a)...)
	}
	genres = unique(genres)
	if len(genres) > 5 {
		genres = genres[:5]
	}
	if genres == nil {
		genres = []string{}
	}
	b := &Brief{TopGenres: genres}
	b.Profile.ID = me.ID
	b.Profile.DisplayName = me.DisplayName
	return b, nil
}

// Summarize returns the profile, the five most frequent genres and the
// feature centroid of the user owning the token.
func (c *Client) Summarize(ctx context.Context, token string) (*Summary, error) {
	me, err := c.Me(ctx, token)
	if err != nil {
		return nil, err
	}
	taste, err := c.Taste(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Profile:          *me,
		TopGenres:        topByFrequency(taste.Genres, 5),
		FeaturesCentroid: taste.Features,
		Samples:          taste.Samples,
	}, nil
}

func topByFrequency(genres []string, n int) []string {
	freq := map[string]int{}
	order := []string{}
	for _, g := range genres {
		k := strings.ToLower(strings.TrimSpace(g))
		if k == "" {
			continue
		}
		if _, ok := freq[k]; !ok {
			order = append(order, k)
		}
		freq[k]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return freq[order[i]] > freq[order[j]]
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func artistGenres(a *spotify.FullArtist) []string {
	if a == nil {
		return nil
	}
	var genres []string
	for _, g := range a.Genres {
		if g == "" {
			continue
		}
		genres = append(genres, strings.ToLower(g))
	}
	return genres
}

// validIDs keeps Spotify ids made of 22 alphanumeric characters.
func validIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if len(id) != 22 {
			continue
		}
		ok := true
		for _, r := range id {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func unique(values []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func chunks(values []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(values); i += size {
		end := i + size
		if end > len(values) {
			end = len(values)
		}
		out = append(out, values[i:end])
	}
	return out
}
