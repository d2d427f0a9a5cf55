package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/igolaizola/hackjam/pkg/cmd/jam"
	"github.com/igolaizola/hackjam/pkg/cmd/login"
	"github.com/igolaizola/hackjam/pkg/cmd/songify"
	"github.com/igolaizola/hackjam/pkg/cmd/taste"
	"github.com/igolaizola/hackjam/pkg/cmd/web"
	"github.com/igolaizola/hackjam/pkg/mood"
	"github.com/igolaizola/hackjam/pkg/session"
	"github.com/peterbourgon/ff/ffyaml"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
)

const envPrefix = "HACKJAM"

func New(version, commit, date string) *ffcli.Command {
	fs := flag.NewFlagSet("hackjam", flag.ExitOnError)

	return &ffcli.Command{
		ShortUsage: "hackjam [flags] <subcommand>",
		FlagSet:    fs,
		Exec: func(context.Context, []string) error {
			return flag.ErrHelp
		},
		Subcommands: []*ffcli.Command{
			newVersionCommand(version, commit, date),
			newServeCommand(),
			newJamCommand(),
			newSongifyCommand(),
			newTasteCommand(),
			newLoginCommand(),
			newMoodsCommand(os.Stdout),
		},
	}
}

func newVersionCommand(version, commit, date string) *ffcli.Command {
	return &ffcli.Command{
		Name:       "version",
		ShortUsage: "hackjam version",
		ShortHelp:  "print version",
		Exec: func(ctx context.Context, args []string) error {
			v := version
			if v == "" {
				if buildInfo, ok := debug.ReadBuildInfo(); ok {
					v = buildInfo.Main.Version
				}
			}
			if v == "" {
				v = "dev"
			}
			versionFields := []string{v}
			if commit != "" {
				versionFields = append(versionFields, commit)
			}
			if date != "" {
				versionFields = append(versionFields, date)
			}
			fmt.Println(strings.Join(versionFields, " "))
			return nil
		},
	}
}

func options() []ff.Option {
	return []ff.Option{
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffyaml.Parser),
		ff.WithEnvVarPrefix(envPrefix),
	}
}

func newServeCommand() *ffcli.Command {
	cmd := "serve"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &web.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.Addr, "addr", ":8000", "address to listen on")

	fs.StringVar(&cfg.SunoToken, "suno-token", "", "suno hackathon api token")
	fs.StringVar(&cfg.SunoURL, "suno-url", "", "suno api base url (optional)")
	fs.DurationVar(&cfg.SunoWait, "suno-wait", 500*time.Millisecond, "minimum time between suno requests")

	fs.StringVar(&cfg.SpotifyClientID, "spotify-client-id", "", "spotify client id")
	fs.StringVar(&cfg.SpotifyClientSecret, "spotify-client-secret", "", "spotify client secret")
	fs.StringVar(&cfg.SpotifyRedirectURL, "spotify-redirect-url", "", "spotify oauth redirect url (defaults to the server callback)")
	fs.StringVar(&cfg.SpotifyReturnURL, "spotify-return-url", "", "frontend url that receives the tokens after login (optional)")
	fs.DurationVar(&cfg.SpotifyWait, "spotify-wait", 100*time.Millisecond, "minimum time between spotify requests")

	fs.StringVar(&cfg.GithubToken, "github-token", "", "github token (optional)")
	fs.StringVar(&cfg.OpenAIKey, "openai-key", "", "openai key to rewrite track topics (optional)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", "", "openai model (optional)")

	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type to save clips (local, s3)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region for s3")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", "", "s3 compatible endpoint (optional)")

	fs.BoolVar(&cfg.Ngrok, "ngrok", false, "expose the server with an ngrok tunnel")
	fs.StringVar(&cfg.NgrokBin, "ngrok-bin", "ngrok", "path to the ngrok binary")

	fs.StringVar(&cfg.Moods, "moods", "", "yaml file with extra mood presets (optional)")
	fsListVar(fs, &cfg.Origins, "origins", "allowed cors origins (comma separated)")
	fsMapVar(fs, &cfg.Credentials, "creds", nil, "credentials to use (semicolon separated) Example: user1:pass1;user2:pass2")

	fs.DurationVar(&cfg.PollInterval, "poll-interval", session.DefaultPollInterval, "interval between clip status checks")
	fs.DurationVar(&cfg.ClipTimeout, "clip-timeout", session.DefaultClipTimeout, "time before a clip is given up")
	fs.DurationVar(&cfg.KeepAlive, "keep-alive", 15*time.Second, "interval between stream keep-alive comments")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", time.Hour, "time sessions are remembered")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("hackjam %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "serve the hackjam api",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return web.Serve(ctx, cfg)
		},
	}
}

func newJamCommand() *ffcli.Command {
	cmd := "jam"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &jam.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.SunoToken, "suno-token", "", "suno hackathon api token")
	fs.StringVar(&cfg.SunoURL, "suno-url", "", "suno api base url (optional)")
	fs.DurationVar(&cfg.SunoWait, "suno-wait", 500*time.Millisecond, "minimum time between suno requests")
	fs.DurationVar(&cfg.SpotifyWait, "spotify-wait", 100*time.Millisecond, "minimum time between spotify requests")
	fsListVar(fs, &cfg.Tokens, "tokens", "spotify access tokens of the team (comma separated)")

	fs.StringVar(&cfg.Mood, "mood", mood.Fallback, "mood preset")
	fs.StringVar(&cfg.Moods, "moods", "", "yaml file with extra mood presets (optional)")
	fs.StringVar(&cfg.TeamName, "team", "", "team name")
	fs.StringVar(&cfg.InsideJokes, "jokes", "", "inside jokes to include in the lyrics")
	fs.StringVar(&cfg.Instrumental, "instrumental", "", "override instrumental (true, false)")
	fs.StringVar(&cfg.Tags, "tags", "", "extra tags (comma separated)")

	fs.IntVar(&cfg.MaxTracks, "max-tracks", 10, "maximum number of tracks")
	fs.DurationVar(&cfg.MaxDuration, "max-duration", 15*time.Minute, "maximum duration of the session")
	fs.DurationVar(&cfg.Delay, "delay", time.Second, "delay between tracks")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", session.DefaultPollInterval, "interval between clip status checks")
	fs.DurationVar(&cfg.ClipTimeout, "clip-timeout", session.DefaultClipTimeout, "time before a clip is given up")

	fs.StringVar(&cfg.OpenAIKey, "openai-key", "", "openai key to rewrite track topics (optional)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", "", "openai model (optional)")
	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type to save clips (local, s3)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region for s3")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", "", "s3 compatible endpoint (optional)")
	fs.StringVar(&cfg.Output, "output", "", "csv report of the finished tracks (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("hackjam %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "generate team tracks until the budget runs out",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return jam.Run(ctx, cfg)
		},
	}
}

func newSongifyCommand() *ffcli.Command {
	cmd := "songify"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &songify.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.SunoToken, "suno-token", "", "suno hackathon api token")
	fs.StringVar(&cfg.SunoURL, "suno-url", "", "suno api base url (optional)")
	fs.DurationVar(&cfg.SunoWait, "suno-wait", 500*time.Millisecond, "minimum time between suno requests")
	fs.StringVar(&cfg.GithubToken, "github-token", "", "github token (optional)")

	fs.StringVar(&cfg.RepoURL, "repo", "", "github repository url")
	fs.StringVar(&cfg.Tags, "tags", "", "tags (comma separated)")
	fs.StringVar(&cfg.Mood, "mood", mood.Fallback, "mood preset")
	fs.StringVar(&cfg.Moods, "moods", "", "yaml file with extra mood presets (optional)")
	fs.StringVar(&cfg.TeamName, "team", "", "team name used as title fallback")

	fs.DurationVar(&cfg.Wait, "wait", 0, "wait for the clip to complete (0 means no wait)")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", 5*time.Second, "interval between clip status checks")
	fs.StringVar(&cfg.FSType, "fs-type", "", "fs type to save the clip (local, s3)")
	fs.StringVar(&cfg.FSConn, "fs-conn", "", "path for local, key:secret@bucket.region for s3")
	fs.StringVar(&cfg.S3Endpoint, "s3-endpoint", "", "s3 compatible endpoint (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("hackjam %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "turn a github repository into a song",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return songify.Run(ctx, cfg)
		},
	}
}

func newTasteCommand() *ffcli.Command {
	cmd := "taste"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &taste.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.DurationVar(&cfg.Wait, "wait", 100*time.Millisecond, "minimum time between spotify requests")
	fs.StringVar(&cfg.Token, "token", "", "spotify access token")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("hackjam %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "print the taste summary of a spotify user",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return taste.Run(ctx, cfg)
		},
	}
}

func newLoginCommand() *ffcli.Command {
	cmd := "login"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	cfg := &login.Config{}

	fs.BoolVar(&cfg.Debug, "debug", false, "debug mode")
	fs.StringVar(&cfg.ClientID, "spotify-client-id", "", "spotify client id")
	fs.StringVar(&cfg.ClientSecret, "spotify-client-secret", "", "spotify client secret")
	fs.StringVar(&cfg.RedirectURL, "spotify-redirect-url", login.DefaultRedirectURL, "local redirect url registered in spotify")
	fs.DurationVar(&cfg.Timeout, "timeout", 5*time.Minute, "time to wait for the login")
	fs.StringVar(&cfg.Output, "output", "", "file to write the tokens to (optional)")
	fs.BoolVar(&cfg.NoBrowser, "no-browser", false, "print the login url instead of opening the browser")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("hackjam %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "obtain spotify tokens",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			return login.Run(ctx, cfg)
		},
	}
}

func newMoodsCommand(w io.Writer) *ffcli.Command {
	cmd := "moods"
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	_ = fs.String("config", "", "config file (optional)")

	var path string
	fs.StringVar(&path, "moods", "", "yaml file with extra mood presets (optional)")

	return &ffcli.Command{
		Name:       cmd,
		ShortUsage: fmt.Sprintf("hackjam %s [flags]", cmd),
		Options:    options(),
		ShortHelp:  "list mood presets",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			catalog, err := mood.Load(path)
			if err != nil {
				return err
			}
			return printMoods(w, catalog)
		},
	}
}

func printMoods(w io.Writer, catalog *mood.Catalog) error {
	for _, p := range catalog.All() {
		instrumental := ""
		if p.Instrumental {
			instrumental = " (instrumental)"
		}
		if _, err := fmt.Fprintf(w, "%s: %s%s\n", p.ID, strings.Join(p.Tags, ", "), instrumental); err != nil {
			return err
		}
	}
	return nil
}

type mapValue struct {
	v *map[string]string
}

func (m *mapValue) String() string {
	if m.v == nil {
		return ""
	}
	return fmt.Sprintf("%v", map[string]string(*m.v))
}

func (m *mapValue) Set(value string) error {
	if m.v == nil {
		return errors.New("nil map reference")
	}
	pairs := strings.Split(value, ";")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid map entry: %s", pair)
		}
		(*m.v)[parts[0]] = parts[1]
	}
	return nil
}

func fsMapVar(fs *flag.FlagSet, p *map[string]string, name string, value map[string]string, usage string) {
	if value == nil {
		value = make(map[string]string)
	}
	*p = value
	fs.Var(&mapValue{p}, name, usage)
}

type listValue struct {
	v *[]string
}

func (l *listValue) String() string {
	if l.v == nil {
		return ""
	}
	return strings.Join(*l.v, ",")
}

func (l *listValue) Set(value string) error {
	if l.v == nil {
		return errors.New("nil list reference")
	}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			*l.v = append(*l.v, item)
		}
	}
	return nil
}

func fsListVar(fs *flag.FlagSet, p *[]string, name string, usage string) {
	fs.Var(&listValue{p}, name, usage)
}
