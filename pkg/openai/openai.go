package openai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/sashabaranov/go-openai"
)

type Client struct {
	client *openai.Client
	debug  bool
	model  string
}

type Config struct {
	Debug   bool
	Token   string
	Model   string
	BaseURL string
}

func New(cfg *Config) *Client {
	c := openai.DefaultConfig(cfg.Token)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &Client{
		client: openai.NewClientWithConfig(c),
		debug:  cfg.Debug,
		model:  model,
	}
}

func (c *Client) log(format string, args ...interface{}) {
	if c.debug {
		format += "\n"
		log.Printf(format, args...)
	}
}

// ChatCompletion sends a single user message and returns the reply.
func (c *Client) ChatCompletion(ctx context.Context, msg string) (string, error) {
	return c.chat(ctx, "", msg)
}

func (c *Client) chat(ctx context.Context, system, msg string) (string, error) {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: msg,
	})
	c.log("openai: chat %s", msg)
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: couldn't create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	reply := resp.Choices[0].Message.Content
	c.log("openai: reply %s", reply)
	return reply, nil
}

const topicSystemPrompt = `You write short briefs for an AI music generator.
Given a brief for a hackathon team anthem and a track number, rewrite the brief
so each track feels different while keeping the team name, mood and jokes.
Reply with the brief only, in one paragraph, under 400 characters.`

// TopicWriter rewrites per-track topics with a language model. It keeps no
// state between calls, the caller passes the previous brief of its session.
type TopicWriter struct {
	client *Client
}

func NewTopicWriter(c *Client) *TopicWriter {
	return &TopicWriter{client: c}
}

// Topic returns a rewritten topic for the given track or an empty string on
// failure.
func (w *TopicWriter) Topic(ctx context.Context, base string, index int, previous string) string {
	prompt := fmt.Sprintf("Brief: %s\nTrack: %d", base, index)
	if previous != "" {
		prompt += fmt.Sprintf("\nPrevious brief (do not repeat it): %s", previous)
	}
	topic, err := w.client.chat(ctx, topicSystemPrompt, prompt)
	if err != nil {
		log.Printf("openai: topic generation failed: %v", err)
		return ""
	}
	topic = strings.Trim(strings.TrimSpace(topic), `"`)
	if len(topic) < 15 {
		log.Printf("openai: unusable topic %q", topic)
		return ""
	}
	return topic
}
