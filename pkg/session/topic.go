package session

import (
	"fmt"
	"strings"
)

const (
	maxTopic = 480
	maxJokes = 120
)

// Topic builds the base topic of a team anthem.
func Topic(team, mood, jokes string) string {
	if team == "" {
		team = "our team"
	}
	topic := fmt.Sprintf("An anthem for %s at HackMIT. Mood: %s. ", team, mood)
	if jokes = strings.TrimSpace(jokes); jokes != "" {
		topic += "Inside jokes: " + truncate(jokes, maxJokes)
	}
	return truncate(topic, maxTopic)
}

// TrackTopic returns the topic of the i-th track of a session.
func TrackTopic(base string, i int) string {
	return truncate(fmt.Sprintf("%s Track %d", strings.TrimSpace(base), i), maxTopic)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
