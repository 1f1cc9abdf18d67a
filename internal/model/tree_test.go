package model

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func separable() ([][]float64, []int) {
	X := [][]float64{
		{0, 5}, {1, 5}, {2, 5}, {3, 5},
		{10, 5}, {11, 5}, {12, 5}, {13, 5},
	}
	y := []int{0, 0, 0, 0, 1, 1, 1, 1}
	return X, y
}

func TestDecisionTree_FitPredict(t *testing.T) {
	X, y := separable()
	tree := NewDecisionTree(TreeOptions{})
	require.NoError(t, tree.Fit(X, y))

	assert.Equal(t, 2, tree.NumFeatures())
	assert.Equal(t, []int{0, 1}, tree.Classes())
	assert.Equal(t, 3, tree.NodeCount())
	assert.Equal(t, 1, tree.Depth())

	got, err := tree.Predict([][]float64{{-4, 0}, {6.4, 0}, {6.6, 0}, {100, 0}})
	require.NoError(t, err)
	// threshold is the midpoint of 3 and 10
	assert.Equal(t, []int{0, 0, 1, 1}, got)

	proba, err := tree.PredictProba([][]float64{{0, 0}, {20, 0}})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, proba)
}

func TestDecisionTree_ThresholdGoesLeft(t *testing.T) {
	tree := NewDecisionTree(TreeOptions{})
	require.NoError(t, tree.Fit([][]float64{{1}, {3}}, []int{0, 1}))
	got, err := tree.Predict([][]float64{{2}, {2.0000001}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, got)
}

func TestDecisionTree_MixedLeafProbabilities(t *testing.T) {
	X := [][]float64{{1}, {1}, {1}, {1}}
	y := []int{0, 1, 1, 1}
	tree := NewDecisionTree(TreeOptions{})
	require.NoError(t, tree.Fit(X, y))

	assert.Equal(t, 1, tree.NodeCount(), "identical rows cannot be split")
	proba, err := tree.PredictProba([][]float64{{1}})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.25, 0.75}, proba[0], 1e-12)

	pred, err := tree.Predict([][]float64{{1}})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, pred)
}

func TestDecisionTree_ArbitraryLabels(t *testing.T) {
	tree := NewDecisionTree(TreeOptions{})
	require.NoError(t, tree.Fit([][]float64{{0}, {1}, {2}}, []int{7, 3, 7}))
	assert.Equal(t, []int{3, 7}, tree.Classes())

	got, err := tree.Predict([][]float64{{0}, {1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, []int{7, 3, 7}, got)
}

func TestDecisionTree_MaxDepth(t *testing.T) {
	X := [][]float64{{0}, {1}, {2}, {3}, {4}, {5}}
	y := []int{0, 1, 0, 1, 0, 1}

	full := NewDecisionTree(TreeOptions{})
	require.NoError(t, full.Fit(X, y))
	pred, err := full.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, y, pred, "unbounded tree memorises the training set")

	stump := NewDecisionTree(TreeOptions{MaxDepth: 1})
	require.NoError(t, stump.Fit(X, y))
	assert.Equal(t, 1, stump.Depth())
	assert.Equal(t, 3, stump.NodeCount())
}

func TestDecisionTree_Deterministic(t *testing.T) {
	X := [][]float64{{1, 9}, {2, 8}, {3, 7}, {4, 6}, {5, 5}, {6, 4}}
	y := []int{0, 0, 1, 0, 1, 1}

	a := NewDecisionTree(TreeOptions{})
	b := NewDecisionTree(TreeOptions{})
	require.NoError(t, a.Fit(X, y))
	require.NoError(t, b.Fit(X, y))
	assert.Equal(t, a.nodes, b.nodes)
}

func TestDecisionTree_Errors(t *testing.T) {
	tree := NewDecisionTree(TreeOptions{})

	_, err := tree.Predict([][]float64{{1}})
	assert.ErrorIs(t, err, ErrNotFitted)

	assert.ErrorIs(t, tree.Fit(nil, nil), ErrEmptyInput)
	assert.ErrorIs(t, tree.Fit([][]float64{{1}}, []int{0, 1}), ErrLabelLength)

	err = tree.Fit([][]float64{{1, 2}, {1}}, []int{0, 1})
	var dim *DimensionError
	require.True(t, errors.As(err, &dim))
	assert.Equal(t, 1, dim.Row)
	assert.Equal(t, 2, dim.Expected)
	assert.Equal(t, 1, dim.Received)

	require.NoError(t, tree.Fit([][]float64{{1, 2}, {3, 4}}, []int{0, 1}))
	_, err = tree.PredictProba([][]float64{{1, 2, 3}})
	require.True(t, errors.As(err, &dim))
	assert.Equal(t, 3, dim.Received)
}

func TestDecisionTree_ConcurrentPredict(t *testing.T) {
	X, y := separable()
	tree := NewDecisionTree(TreeOptions{})
	require.NoError(t, tree.Fit(X, y))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := tree.Predict(X)
			assert.NoError(t, err)
			assert.Equal(t, y, got)
		}()
	}
	wg.Wait()
}

func TestLabelName(t *testing.T) {
	assert.Equal(t, "human", LabelName(LabelHuman))
	assert.Equal(t, "bot", LabelName(LabelBot))
	assert.Equal(t, "class_4", LabelName(4))
}

func TestSaveLoad(t *testing.T) {
	X, y := separable()
	tree := NewDecisionTree(TreeOptions{MaxDepth: 4})
	require.NoError(t, tree.Fit(X, y))

	var buf bytes.Buffer
	require.NoError(t, tree.Save(&buf))
	assert.Contains(t, buf.String(), `"format":"cursorguard/decision-tree"`)

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, tree.NumFeatures(), loaded.NumFeatures())
	assert.Equal(t, tree.Classes(), loaded.Classes())
	assert.Equal(t, 4, loaded.Options().MaxDepth)

	want, _ := tree.PredictProba(X)
	got, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSaveUnfitted(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, NewDecisionTree(TreeOptions{}).Save(&buf), ErrNotFitted)
}

func TestLoadRejectsBadBlobs(t *testing.T) {
	tests := []struct {
		name string
		blob string
		want string
	}{
		{"not json", `nope`, "decode model"},
		{"format", `{"format":"other","version":1}`, "unexpected model format"},
		{"version", `{"format":"cursorguard/decision-tree","version":9}`, "unsupported model version"},
		{"no features", `{"format":"cursorguard/decision-tree","version":1,"n_features":0,"classes":[0],"nodes":[{"feature":-1,"value":[1]}]}`, "no features"},
		{"no classes", `{"format":"cursorguard/decision-tree","version":1,"n_features":1,"nodes":[{"feature":-1,"value":[1]}]}`, "no classes"},
		{"no nodes", `{"format":"cursorguard/decision-tree","version":1,"n_features":1,"classes":[0]}`, "no nodes"},
		{"leaf width", `{"format":"cursorguard/decision-tree","version":1,"n_features":1,"classes":[0,1],"nodes":[{"feature":-1,"value":[1]}]}`, "class weights"},
		{"feature range", `{"format":"cursorguard/decision-tree","version":1,"n_features":1,"classes":[0],"nodes":[{"feature":3,"left":1,"right":2},{"feature":-1,"value":[1]},{"feature":-1,"value":[1]}]}`, "splits on feature"},
		{"cycle", `{"format":"cursorguard/decision-tree","version":1,"n_features":1,"classes":[0],"nodes":[{"feature":0,"left":0,"right":1},{"feature":-1,"value":[1]}]}`, "invalid children"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.blob))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveFileLoadFile(t *testing.T) {
	X, y := separable()
	tree := NewDecisionTree(TreeOptions{})
	require.NoError(t, tree.Fit(X, y))

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, tree.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	got, err := loaded.Predict(X)
	require.NoError(t, err)
	assert.Equal(t, y, got)
}

func TestLoadFileUnavailable(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.json"))
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{}"), 0o600))
	_, err = LoadFile(bad)
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, bad, unavailable.Path)
}
