package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"impossibl/pkg/game"
)

// LevelGenerator returns the raw model output for a level request.
type LevelGenerator interface {
	Generate(ctx context.Context, prompt, difficulty string) (string, error)
}

const maxPromptLen = 1000

var difficultyHints = map[string]string{
	"medium":  "Make a long medium level of 120 to 180 tiles. Mix gaps, spikes and platforms at varied heights, easy at first and harder later.",
	"hard":    "Make a long hard level of 150 to 200 tiles with tight jumps, many spikes and demanding platform runs. Every gap must stay jumpable.",
	"extreme": "Make a very long extreme level of 180 to 250 tiles with very tight jumps and long platform sequences. It must still be beatable with the player's stats.",
}

var levelSystemPrompt = fmt.Sprintf(`You design levels for a 2D auto-running platformer. Reply with one JSON object and nothing else.

World:
- Tile size %[1]d px. Ground is at y=%[2]d. The player starts at x=0, y=%[3]d and is %[1]dx%[1]d.
- The player runs right at runSpeed px/s (150-300), jumps with jumpVelocity (-300 to -500) and falls with gravity (1200-2000).

Obstacles:
- "spike" kills on touch. y=%[2]d on the ground, lower y on top of platforms.
- "block" sits at y=%[2]d and removes the ground under it, making a pit. Adjacent blocks make wider pits.
- "platform" floats above ground (y<%[2]d). It can only be landed on from above.

Rules:
- The level must be completable. Keep the first 5 to 10 tiles safe.
- All coordinates and sizes are multiples of %[1]d.
- The player color is always 0xff4444.
- endX is a multiple of %[1]d placed after the last obstacle, typically 2400 to 4000 px.

Shape:
{"player":{"x":0,"y":%[3]d,"width":%[1]d,"height":%[1]d,"color":0xff4444,"runSpeed":n,"jumpVelocity":n,"gravity":n},
 "obstacles":[{"kind":"spike","x":n,"y":n},{"kind":"block","x":n,"y":n,"width":n,"height":n},{"kind":"platform","x":n,"y":n,"width":n,"height":n}],
 "endX":n}`, int(game.Tile), int(game.GroundY), int(game.GroundY-game.Tile))

func levelUserPrompt(prompt, difficulty string) string {
	return prompt + "\n\nDifficulty: " + difficulty + "\n" + difficultyHints[difficulty] +
		"\n\nThe level must be completable and long, with many obstacles across several sections." +
		" Never start with an impossible obstacle. Keep the player color 0xff4444." +
		"\n\nReturn the complete level JSON with player parameters, obstacles and endX."
}

// --- OpenAI-compatible client ---

type openAIClient struct {
	client *openai.Client
	model  string
}

func newOpenAIClient(baseURL, apiKey, model string) *openAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	return &openAIClient{client: openai.NewClientWithConfig(cfg), model: model}
}

var errNoCompletion = errors.New("no response from model")

func (c *openAIClient) Generate(ctx context.Context, prompt, difficulty string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: levelSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: levelUserPrompt(prompt, difficulty)},
		},
		Temperature: 0.8,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errNoCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// --- Handlers ---

func handleDefaultLevel(w http.ResponseWriter, r *http.Request) {
	writeOK(w, LevelResponse{Level: game.DefaultLevel()})
}

func handleGenerateLevel(w http.ResponseWriter, r *http.Request) {
	var req LevelRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if n := utf8.RuneCountInString(req.Prompt); n < 1 || n > maxPromptLen {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("prompt must be 1 to %d characters", maxPromptLen))
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = "medium"
	}
	if _, ok := difficultyHints[req.Difficulty]; !ok {
		writeError(w, http.StatusBadRequest, "difficulty must be medium, hard or extreme")
		return
	}
	if levelGen == nil {
		writeError(w, http.StatusServiceUnavailable, "level generation not configured")
		return
	}

	content, err := levelGen.Generate(r.Context(), req.Prompt, req.Difficulty)
	if err != nil {
		ErrorLog.Printf("[level] generate: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	raw, err := game.ParseLevel(content)
	if err != nil {
		ErrorLog.Printf("[level] parse: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeOK(w, LevelResponse{Level: game.Normalize(raw)})
}
