package generator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const systemPrompt = "You are a friendly, intelligent AI chat assistant. " +
	"Respond naturally, answer directly, and keep replies short unless the " +
	"user asks for details. If you don't know something, say so honestly."

type GeminiGenerator struct {
	client *genai.Client
	model  string
	log    *log.Logger
}

// NewGeminiGenerator builds a Gemini-backed generator. An empty API key is
// not an error at construction time: the generator is created unconfigured
// and every Generate call fails with KindUnconfigured.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, logger *log.Logger) (*GeminiGenerator, error) {
	g := &GeminiGenerator{
		model: model,
		log:   logger,
	}

	if apiKey == "" {
		logger.Println("no Gemini API key configured, reply generation disabled")
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	g.client = client
	return g, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.client == nil {
		return "", &Error{Kind: KindUnconfigured, Err: errors.New("no API key configured")}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		return "", classify(err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", &Error{Kind: KindUnknown, Err: errors.New("empty response from model")}
	}

	return text, nil
}

// classify maps a provider error to a FailureKind using whatever signal is
// available: context state, network error types, API status codes and,
// last, message substrings.
func classify(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindNetwork, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: KindNetwork, Err: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimited, Err: err}
		case http.StatusServiceUnavailable, http.StatusInternalServerError:
			return &Error{Kind: KindOverloaded, Err: err}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &Error{Kind: KindUnconfigured, Err: err}
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return &Error{Kind: KindRateLimited, Err: err}
	case strings.Contains(msg, "overloaded"):
		return &Error{Kind: KindOverloaded, Err: err}
	case strings.Contains(msg, "api key"):
		return &Error{Kind: KindUnconfigured, Err: err}
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection"):
		return &Error{Kind: KindNetwork, Err: err}
	}

	return &Error{Kind: KindUnknown, Err: err}
}
