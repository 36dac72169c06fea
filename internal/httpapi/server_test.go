package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/quantizer"
	"github.com/danielpatrickdp/ihtai/internal/session"
	"github.com/danielpatrickdp/ihtai/internal/store"
	"github.com/danielpatrickdp/ihtai/internal/window"
	"github.com/danielpatrickdp/ihtai/internal/wire"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// #region helpers
const fixtureBody = `{
	"startingData": [
		{"inputState": [5], "actionState": [5], "driveState": [5]},
		{"inputState": [10], "actionState": [10], "driveState": [10]},
		{"inputState": [0], "actionState": [15], "driveState": [0]},
		{"inputState": [20], "actionState": [20], "driveState": [20]}
	],
	"possibleActionValues": [[5, 10, 15, 20]]
}`

func setupTestRouter(t *testing.T, clientLog *slog.Logger) *gin.Engine {
	t.Helper()
	s := store.NewMemoryStore()
	require.NoError(t, s.Init(context.Background()))
	w, err := window.New(5, []int{2, 3})
	require.NoError(t, err)
	sess := session.New(quantizer.New(s, quantizer.Options{}), w, nil)
	return New(sess, nil, clientLog).Router()
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

// #endregion helpers

// #region lifecycle-tests
func TestInitializeLifecycle(t *testing.T) {
	r := setupTestRouter(t, nil)

	w := do(t, r, http.MethodPost, "/v1/nearest", `{"inputState":[1],"actionState":[1],"driveState":[1]}`)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = do(t, r, http.MethodPost, "/v1/initialize", fixtureBody)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var initResp wire.InitializeResponse
	decode(t, w, &initResp)
	assert.Equal(t, 4, initResp.Cells)
	assert.Equal(t, []bool{true, true, true, true}, initResp.Created)

	w = do(t, r, http.MethodPost, "/v1/initialize", fixtureBody)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, r, http.MethodGet, "/health", "")
	var health wire.HealthResponse
	decode(t, w, &health)
	assert.True(t, health.Initialized)
	assert.Equal(t, 4, health.Cells)
	assert.NotEmpty(t, health.Session)

	w = do(t, r, http.MethodDelete, "/v1/state", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	decode(t, do(t, r, http.MethodGet, "/health", ""), &health)
	assert.False(t, health.Initialized)
	assert.Zero(t, health.Cells)
}

func TestInitializeRejectsBadBodies(t *testing.T) {
	r := setupTestRouter(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/v1/initialize", `{`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/v1/initialize", `{"startingData": []}`).Code)
	// action width does not match the alphabet
	body := `{"startingData":[{"inputState":[1],"actionState":[1,2],"driveState":[1]}],"possibleActionValues":[[1]]}`
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/v1/initialize", body).Code)
}

// #endregion lifecycle-tests

// #region cell-tests
func TestCellOperations(t *testing.T) {
	r := setupTestRouter(t, nil)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/v1/initialize", fixtureBody).Code)

	var nearest wire.NearestResponse
	decode(t, do(t, r, http.MethodPost, "/v1/nearest", `{"inputState":[9],"actionState":[10],"driveState":[9]}`), &nearest)
	assert.Equal(t, "pattern_10_10_10", nearest.PatternString)

	var best wire.BestActionResponse
	decode(t, do(t, r, http.MethodPost, "/v1/best-next-action", `{"patternString":"5_5_5"}`), &best)
	assert.Equal(t, "pattern_5_5_5", best.PatternString)
	assert.Equal(t, "10", best.Action.Signature)

	w := do(t, r, http.MethodPost, "/v1/best-next-action", `{"patternString":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	split := `{"originalPatternRecognizerString":"pattern_5_5_5","newPoint":{"inputState":[1],"actionState":[2],"driveState":[3]}}`
	w = do(t, r, http.MethodPost, "/v1/split", split)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sr wire.SplitResponse
	decode(t, w, &sr)
	assert.Equal(t, "pattern_1_2_3", sr.PatternString)
	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, "/v1/split", split).Code)

	var rate wire.AccessRateResponse
	decode(t, do(t, r, http.MethodPost, "/v1/access-rate", `{"patternString":"pattern_5_5_5"}`), &rate)
	assert.Zero(t, rate.UpdatesPerMinute)

	var cells wire.CellsResponse
	decode(t, do(t, r, http.MethodGet, "/v1/cells", ""), &cells)
	assert.Len(t, cells.Cells, 5)

	var actions wire.ActionsResponse
	decode(t, do(t, r, http.MethodGet, "/v1/cells/5_5_5/actions", ""), &actions)
	// four alphabet signatures plus the one added by the split
	assert.Len(t, actions.Actions, 5)

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodDelete, "/v1/cells/pattern_1_2_3", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodDelete, "/v1/cells/pattern_1_2_3", "").Code)

	var journal wire.JournalResponse
	decode(t, do(t, r, http.MethodGet, "/v1/journal?limit=2", ""), &journal)
	require.Len(t, journal.Entries, 2)
	assert.Equal(t, "delete", journal.Entries[0].Kind)
	assert.Equal(t, "split", journal.Entries[1].Kind)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/v1/journal?limit=x", "").Code)
}

// #endregion cell-tests

// #region cycle-tests
func TestTimeStepsAndUpdateScore(t *testing.T) {
	r := setupTestRouter(t, nil)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/v1/initialize", fixtureBody).Code)

	var ts wire.TimeStepResponse
	decode(t, do(t, r, http.MethodPut, "/v1/timesteps", `{"actionKey":"5","stateKey":"5_5_5","score":0}`), &ts)
	assert.Equal(t, 1, ts.Length)
	assert.Equal(t, http.StatusPreconditionFailed, do(t, r, http.MethodPost, "/v1/update-score", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPut, "/v1/timesteps", `{"actionKey":"5","stateKey":"5_5_5"}`).Code)

	do(t, r, http.MethodPut, "/v1/timesteps", `{"actionKey":"20","stateKey":"pattern_20_20_20","score":2}`)
	w := do(t, r, http.MethodPost, "/v1/update-score", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var credit wire.UpdateScoreResponse
	decode(t, w, &credit)
	assert.Equal(t, "pattern_5_5_5", credit.CellKey)
	assert.Equal(t, "20", credit.ActionKey)
	assert.Equal(t, []float64{2}, credit.Rewards)
}

func TestStep(t *testing.T) {
	r := setupTestRouter(t, nil)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/v1/initialize", fixtureBody).Code)

	var last wire.StepResponse
	for i := 0; i < 3; i++ {
		body := fmt.Sprintf(`{"inputState":[%d],"actionState":[5],"driveState":[5],"score":1}`, 5+i)
		w := do(t, r, http.MethodPost, "/v1/step", body)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		decode(t, w, &last)
	}
	assert.Equal(t, uint64(3), last.Cycle)
	assert.Equal(t, "pattern_5_5_5", last.NearestKey)
	require.NotNil(t, last.Credit)
	assert.Equal(t, "pattern_5_5_5", last.Credit.CellKey)
	assert.Len(t, last.Credit.Rewards, 2)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/v1/step", `{"inputState":[1],"actionState":[5],"driveState":[5]}`).Code)
}

// #endregion cycle-tests

// #region misc-tests
func TestCORSPreflight(t *testing.T) {
	r := setupTestRouter(t, nil)
	w := do(t, r, http.MethodOptions, "/v1/step", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestClientLog(t *testing.T) {
	var buf bytes.Buffer
	clientLog := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	r := setupTestRouter(t, clientLog)

	w := do(t, r, http.MethodPost, "/v1/log", `{"level":"warn","msg":"ball stuck","fields":{"x":3}}`)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, buf.String(), "ball stuck")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "x=3")

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/v1/log", `{"level":"warn"}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupTestRouter(t, nil)
	do(t, r, http.MethodGet, "/health", "")
	w := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ihtai_request_duration_seconds")
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		errs.ErrValidation:          http.StatusBadRequest,
		errs.ErrNoSuchCell:          http.StatusNotFound,
		errs.ErrAlreadyExists:       http.StatusConflict,
		errs.ErrAlreadyInitialized:  http.StatusConflict,
		errs.ErrInsufficientHistory: http.StatusPreconditionFailed,
		errs.ErrNotInitialized:      http.StatusPreconditionFailed,
		errs.ErrCapacity:            http.StatusUnprocessableEntity,
		errs.ErrStore:               http.StatusInternalServerError,
	}
	for err, want := range cases {
		wrapped := fmt.Errorf("op: %w", err)
		assert.Equal(t, want, StatusFor(wrapped), err.Error())
	}
}

// #endregion misc-tests
