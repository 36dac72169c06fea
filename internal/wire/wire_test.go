package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/session"
)

func TestInitializeRequestDecodesMixedAlphabet(t *testing.T) {
	body := `{
		"startingData": [{"inputState": [5], "actionState": [5], "driveState": [5]}],
		"possibleActionValues": [[-1, 1], ["a", "b"], ["x", "y"]]
	}`
	var req InitializeRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.NoError(t, Validate(req))

	assert.Len(t, req.PossibleActionValues.Signatures(), 8)
	assert.Equal(t, "pattern_5_5_5", req.StartingData[0].Key())
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]interface{}{
		"no starting data": InitializeRequest{PossibleActionValues: point.Alphabet{point.NumberSymbols(1)}},
		"empty dimension":  InitializeFromStoreRequest{PossibleActionValues: point.Alphabet{{}}},
		"missing key":      CellRequest{},
		"missing score":    TimeStepRequest{ActionKey: "5", StateKey: "5_5_5"},
		"step no action": StepRequest{
			Point: point.Point{Input: []float64{1}, Action: []float64{}, Drive: []float64{1}},
			Score: new(float64),
		},
		"bad log level": LogRequest{Level: "loud", Msg: "x"},
	}
	for name, req := range cases {
		err := Validate(req)
		assert.ErrorIs(t, err, errs.ErrValidation, name)
	}

	zero := 0.0
	assert.NoError(t, Validate(TimeStepRequest{ActionKey: "5", StateKey: "5_5_5", Score: &zero}))
}

func TestStepRequestFlattensPoint(t *testing.T) {
	body := `{"inputState": [1.5], "actionState": [2], "driveState": [0], "score": 3}`
	var req StepRequest
	require.NoError(t, json.Unmarshal([]byte(body), &req))
	require.NoError(t, Validate(req))
	assert.Equal(t, "pattern_1d5_2_0", req.Point.Key())
	assert.Equal(t, 3.0, *req.Score)
}

func TestStructConversionKeepsPayload(t *testing.T) {
	in := UpdateScoreResponse{CellKey: "pattern_5_5_5", ActionKey: "20", Rewards: []float64{0.25, 4}, BestScore: 0.125}
	s, err := ToStruct(in)
	require.NoError(t, err)
	assert.Equal(t, "pattern_5_5_5", s.Fields["startPattern"].GetStringValue())

	var out session.Credit
	require.NoError(t, FromStruct(s, &out))
	assert.Equal(t, in, out)

	var untouched CellRequest
	require.NoError(t, FromStruct(nil, &untouched))
	assert.Empty(t, untouched.PatternString)
}
