package main

import (
	"bytes"
	"context"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortontech/cursorguard/internal/classify"
	"github.com/shortontech/cursorguard/internal/model"
	"github.com/shortontech/cursorguard/internal/transport"
	"github.com/shortontech/cursorguard/pkg/config"
)

func TestGenerateSessions(t *testing.T) {
	sessions := generateSessions(rand.New(rand.NewPCG(1, 2)), 3)
	require.Len(t, sessions, 6)

	for i, s := range sessions {
		want := model.LabelHuman
		if i >= 3 {
			want = model.LabelBot
		}
		assert.Equal(t, want, s.Label, s.Name)
		assert.GreaterOrEqual(t, len(s.Points), 2, s.Name)

		last := s.Points[len(s.Points)-1]
		assert.Equal(t, "Released", last["state"], s.Name)
		for _, key := range []string{"recordTimestamp", "clientTimestamp", "button", "state", "x", "y"} {
			assert.Contains(t, s.Points[0], key)
		}
	}
}

func TestGenerateSessionsDeterministic(t *testing.T) {
	a := generateSessions(rand.New(rand.NewPCG(7, 7)), 2)
	b := generateSessions(rand.New(rand.NewPCG(7, 7)), 2)
	assert.Equal(t, a, b)
}

func TestFitSynthetic(t *testing.T) {
	sessions := generateSessions(rand.New(rand.NewPCG(3, 4)), 10)
	tree, err := fitSynthetic(sessions)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, tree.Classes())

	_, err = fitSynthetic(nil)
	assert.Error(t, err)
}

func TestClassifySessions(t *testing.T) {
	sessions := generateSessions(rand.New(rand.NewPCG(5, 6)), 5)
	tree, err := fitSynthetic(sessions)
	require.NoError(t, err)

	state, err := buildState(config.Default(), tree)
	require.NoError(t, err)
	c, err := transport.NewCipher([]byte(config.DefaultAESKey))
	require.NoError(t, err)

	var verdicts []classify.Verdict
	emit := func(v classify.Verdict) { verdicts = append(verdicts, v) }

	summary, err := classifySessions(context.Background(), classify.NewService(state), c, emit, "pepper", sessions)
	require.NoError(t, err)

	// fitted on the same sessions, so every request is classified correctly
	assert.Equal(t, 20, summary.Requests)
	assert.Equal(t, 20, summary.Correct)
	assert.Zero(t, summary.Failures)
	require.Len(t, verdicts, 20)

	modes := map[string]int{}
	for _, v := range verdicts {
		modes[v.Mode]++
		assert.Equal(t, "cursorguard-selftest", v.UserAgent)
		assert.Equal(t, classify.HashIP("127.0.0.1", "pepper"), v.IPHash)
	}
	assert.Equal(t, map[string]int{"json": 10, "encrypted": 10}, modes)
}

func TestRunSelfTest(t *testing.T) {
	cfg := config.Default()
	cfg.ModelPath = filepath.Join(t.TempDir(), "absent.json")
	cfg.Outputs = []string{"log"}
	t.Setenv("LOG_PATH", filepath.Join(t.TempDir(), "verdicts.ndjson"))

	var out bytes.Buffer
	require.NoError(t, runSelfTest(context.Background(), cfg, 4, 1, &out))
	assert.Contains(t, out.String(), "selftest: 16 requests")
	assert.Contains(t, out.String(), "0 rejected")
}
