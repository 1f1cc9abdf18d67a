package classify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortontech/cursorguard/internal/event"
	"github.com/shortontech/cursorguard/internal/features"
	"github.com/shortontech/cursorguard/internal/training"
	"github.com/shortontech/cursorguard/internal/transport"
)

type sessionPoint struct {
	recordTS, clientTS float64
	button, state      string
	x, y               float64
}

// recordedSession has more rows than the vector keeps, a zero timestamp and
// enum values neither table knows.
func recordedSession() []sessionPoint {
	buttons := []string{"NoButton", "Left", "Right", "Middle"}
	states := []string{"Move", "Pressed", "Released", "Drag"}
	points := make([]sessionPoint, 130)
	for i := range points {
		points[i] = sessionPoint{
			recordTS: 1700000000.125 + float64(i)*0.016,
			clientTS: float64(i) * 16.5,
			button:   buttons[i%len(buttons)],
			state:    states[(i/2)%len(states)],
			x:        100 + float64(i)*1.75,
			y:        300 - float64(i)*0.5,
		}
	}
	points[0].clientTS = 0
	points[5].recordTS = 0
	return points
}

func formatNum(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

func writeSessionCSV(t *testing.T, root string, points []sessionPoint) {
	t.Helper()
	dir := filepath.Join(root, "user1")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	var b strings.Builder
	b.WriteString(strings.Join(training.SessionColumns, ", ") + "\n")
	for _, p := range points {
		fmt.Fprintf(&b, "%s, %s, %s, %s, %s, %s\n",
			formatNum(p.recordTS), formatNum(p.clientTS), p.button, p.state, formatNum(p.x), formatNum(p.y))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session_0001"), []byte(b.String()), 0o600))
}

func sessionBody(t *testing.T, points []sessionPoint) []byte {
	t.Helper()
	data := make([]map[string]any, len(points))
	for i, p := range points {
		data[i] = map[string]any{
			"recordTimestamp": p.recordTS,
			"clientTimestamp": p.clientTS,
			"button":          p.button,
			"state":           p.state,
			"x":               p.x,
			"y":               p.y,
		}
	}
	body, err := json.Marshal(map[string]any{"cursorData": data})
	require.NoError(t, err)
	return body
}

func TestTrainingAndServingBuildTheSameVector(t *testing.T) {
	points := recordedSession()
	root := t.TempDir()
	writeSessionCSV(t, root, points)
	body := sessionBody(t, points)

	for _, policy := range []event.Policy{event.PolicyPresence, event.PolicyTruthy} {
		t.Run(string(policy), func(t *testing.T) {
			norm := event.NewNormalizer(policy)

			loader := &training.Loader{Normalizer: norm}
			ds, err := loader.LoadDataset(root)
			require.NoError(t, err)
			require.Equal(t, 1, ds.Len())
			trained := ds.X()[0]

			clf := &stubClassifier{width: features.Length, proba: []float64{0.5, 0.5}}
			svc := NewService(NewState(clf, norm, transport.NewDecoder(nil)))
			res, fail := svc.Classify(context.Background(), body, jsonHeader())
			require.Nil(t, fail)
			assert.Equal(t, features.MaxSequenceLength, res.ProcessedPoints)
			require.Len(t, clf.seen, 1)
			served := clf.seen[0]

			require.Len(t, trained, features.Length)
			require.Len(t, served, features.Length)
			for i := range trained {
				require.Equal(t, trained[i], served[i], "feature %d (row %d, column %d)", i, i/features.FeaturesPerRow, i%features.FeaturesPerRow)
			}

			// unknown enums encode as 0, the zero timestamps stay 0
			assert.Zero(t, served[3*features.FeaturesPerRow+2], "Middle button")
			assert.Zero(t, served[6*features.FeaturesPerRow+3], "Drag state")
			assert.Zero(t, served[1], "zero client timestamp")
			assert.Zero(t, served[5*features.FeaturesPerRow], "zero record timestamp")
		})
	}
}
