package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"impossibl/pkg/game"
)

type fakeGenerator struct {
	reply      string
	prompt     string
	difficulty string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt, difficulty string) (string, error) {
	f.prompt, f.difficulty = prompt, difficulty
	return f.reply, nil
}

const fencedLevel = "Here you go:\n```json\n" +
	`{"player":{"x":0,"y":380,"width":20,"height":20,"color":0xff4444,"runSpeed":250,"jumpVelocity":-450,"gravity":1600},
 "obstacles":[{"kind":"spike","x":40,"y":400},{"kind":"spike","x":203,"y":400},{"kind":"block","x":400,"y":400,"width":40,"height":20}],
 "endX":3000}` + "\n```"

func TestGenerateLevel(t *testing.T) {
	setupTestEnv(t)
	gen := &fakeGenerator{reply: fencedLevel}
	levelGen = gen
	mux := routes()
	token := loginAs(t, createTestUser(t, testAddress(1)))

	var res LevelResponse
	decodeData(t, executeRequest(mux, "POST", "/api/generate-level", LevelRequest{Prompt: "lava caves"}, bearer(token)...), &res)

	assert.Equal(t, "lava caves", gen.prompt)
	assert.Equal(t, "medium", gen.difficulty)
	assert.Equal(t, 250.0, res.Level.Player.RunSpeed)
	assert.Equal(t, 3000.0, res.Level.EndX)
	// The spike in the safe zone is dropped and the rest snap to the grid.
	require.Len(t, res.Level.Obstacles, 2)
	assert.Equal(t, game.KindSpike, res.Level.Obstacles[0].Kind)
	assert.Equal(t, 200.0, res.Level.Obstacles[0].X)
}

func TestGenerateLevelValidation(t *testing.T) {
	setupTestEnv(t)
	mux := routes()
	token := loginAs(t, createTestUser(t, testAddress(1)))

	rr := executeRequest(mux, "POST", "/api/generate-level", LevelRequest{Prompt: "x"}, bearer(token)...)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	levelGen = &fakeGenerator{reply: "no level here"}
	cases := []struct {
		req  LevelRequest
		code int
	}{
		{LevelRequest{Prompt: ""}, http.StatusBadRequest},
		{LevelRequest{Prompt: strings.Repeat("a", maxPromptLen+1)}, http.StatusBadRequest},
		{LevelRequest{Prompt: "x", Difficulty: "easy"}, http.StatusBadRequest},
		{LevelRequest{Prompt: "x", Difficulty: "extreme"}, http.StatusInternalServerError},
	}
	for _, c := range cases {
		rr := executeRequest(mux, "POST", "/api/generate-level", c.req, bearer(token)...)
		assert.Equal(t, c.code, rr.Code, "%+v", c.req)
	}

	rr = executeRequest(mux, "POST", "/api/generate-level", LevelRequest{Prompt: "x"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestDefaultLevelRoute(t *testing.T) {
	setupTestEnv(t)
	var res LevelResponse
	decodeData(t, executeRequest(routes(), "GET", "/api/level/default", nil), &res)
	assert.Equal(t, game.DefaultLevel().Fingerprint(), res.Level.Fingerprint())
}

func TestOpenAIClient(t *testing.T) {
	var got openai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"endX\":2000}"}}]}`))
	}))
	defer srv.Close()

	c := newOpenAIClient(srv.URL, "sk-test", "test-model")
	out, err := c.Generate(context.Background(), "ice", "hard")
	require.NoError(t, err)
	assert.Equal(t, `{"endX":2000}`, out)
	assert.Equal(t, "test-model", got.Model)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, got.ResponseFormat.Type)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "ice")
	assert.Contains(t, got.Messages[1].Content, difficultyHints["hard"])
}

func TestOpenAIClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Authorization"), "bad") {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"invalid key"}}`))
			return
		}
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newOpenAIClient(srv.URL, "bad", "m").Generate(context.Background(), "x", "medium")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid key")

	_, err = newOpenAIClient(srv.URL, "good", "m").Generate(context.Background(), "x", "medium")
	assert.ErrorIs(t, err, errNoCompletion)
}
