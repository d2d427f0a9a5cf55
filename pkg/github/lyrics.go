package github

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxTLDR   = 240
	maxChorus = 120
	maxLines  = 14
)

// Readme holds the bits of a README used for lyrics.
type Readme struct {
	Title string `json:"title"`
	TLDR  string `json:"tldr"`
}

var (
	titleRegex   = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	newlineRegex = regexp.MustCompile(`[\n\r]+`)
	spaceRegex   = regexp.MustCompile(`\s+`)
	skipRegex    = regexp.MustCompile(`(?i)^(merge|wip|fix typo|bump|ci|chore|update readme)`)
)

// ParseReadme returns the first level-one heading and the first paragraph
// that isn't a heading, stripped of HTML.
func ParseReadme(md string) Readme {
	if md == "" {
		return Readme{}
	}
	var r Readme
	if m := titleRegex.FindStringSubmatch(md); m != nil {
		r.Title = strings.TrimSpace(m[1])
	}
	md = strings.ReplaceAll(md, "\r", "")
	for _, block := range strings.Split(md, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" || strings.HasPrefix(block, "#") {
			continue
		}
		text := strings.TrimSpace(newlineRegex.ReplaceAllString(stripHTML(block), " "))
		if text == "" {
			continue
		}
		r.TLDR = truncate(text, maxTLDR)
		break
	}
	return r
}

func stripHTML(s string) string {
	if !strings.Contains(s, "<") && !strings.Contains(s, "&") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}

// BuildLyrics writes song lyrics from a repository: verses from commit
// subjects and a chorus from the README.
func BuildLyrics(tldr, title string, commits []string) string {
	chorus := strings.TrimSpace(tldr)
	if chorus == "" {
		chorus = strings.TrimSpace(title)
	}
	if chorus == "" {
		chorus = "ship it at HackMIT"
	}
	chorus = truncate(chorus, maxChorus)

	var cleaned []string
	for _, m := range commits {
		if len(m) < 8 || skipRegex.MatchString(m) {
			continue
		}
		cleaned = append(cleaned, strings.TrimSpace(spaceRegex.ReplaceAllString(m, " ")))
		if len(cleaned) >= maxLines {
			break
		}
	}

	verse1 := bullets(cleaned, 0, 6, "first commit, first light")
	verse2 := bullets(cleaned, 6, 12, "feature flags and hopeful logs")
	bridge := bullets(cleaned, 12, 16, "tests are green, deploy at dawn")

	return strings.Join([]string{
		"[Verse 1]",
		verse1, "",
		"[Chorus]",
		chorus,
		"build, refactor, iterate, we ship tonight", "",
		"[Verse 2]",
		verse2, "",
		"[Bridge]",
		bridge,
	}, "\n")
}

func bullets(lines []string, from, to int, fallback string) string {
	if from >= len(lines) {
		return "- " + fallback
	}
	if to > len(lines) {
		to = len(lines)
	}
	var out []string
	for _, l := range lines[from:to] {
		out = append(out, fmt.Sprintf("- %s", l))
	}
	return strings.Join(out, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
