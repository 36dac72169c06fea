// Package wire defines the request and response bodies shared by the HTTP and gRPC
// transports, and their conversion to protobuf Structs.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/session"
	"github.com/danielpatrickdp/ihtai/internal/store"
)

// #region validator
// wireValidate is shared by every request type.
var wireValidate *validator.Validate

func init() {
	wireValidate = validator.New()
}

// Validate checks v's struct tags and wraps any failure in ErrValidation.
func Validate(v interface{}) error {
	if err := wireValidate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}
	return nil
}

// #endregion validator

// #region initialize
type InitializeRequest struct {
	StartingData         []point.Point  `json:"startingData" validate:"required,min=1,dive"`
	PossibleActionValues point.Alphabet `json:"possibleActionValues" validate:"required,min=1,dive,min=1"`
}

type InitializeResponse struct {
	Created []bool `json:"created"`
	Cells   int    `json:"cells"`
}

type InitializeFromStoreRequest struct {
	PossibleActionValues point.Alphabet `json:"possibleActionValues" validate:"required,min=1,dive,min=1"`
}

type InitializeFromStoreResponse struct {
	Cells int `json:"cells"`
}

// #endregion initialize

// #region cells
// CellRequest names a cell by key, with or without the "pattern_" prefix.
type CellRequest struct {
	PatternString string `json:"patternString" validate:"required"`
}

type NearestResponse struct {
	PatternString string `json:"patternString"`
}

type BestActionResponse struct {
	PatternString string          `json:"patternString"`
	Action        store.ActionRow `json:"action"`
}

type SplitRequest struct {
	Original string      `json:"originalPatternRecognizerString" validate:"required"`
	NewPoint point.Point `json:"newPoint"`
}

type SplitResponse struct {
	PatternString string `json:"patternString"`
}

type AccessRateResponse struct {
	PatternString    string  `json:"patternString"`
	UpdatesPerMinute float64 `json:"updatesPerMinute"`
}

type DeleteResponse struct {
	Deleted string `json:"deleted"`
}

type CellsResponse struct {
	Cells []session.CellSummary `json:"cells"`
}

type ActionsResponse struct {
	PatternString string            `json:"patternString"`
	Actions       []store.ActionRow `json:"actions"`
}

// #endregion cells

// #region window
type TimeStepRequest struct {
	ActionKey string   `json:"actionKey" validate:"required"`
	StateKey  string   `json:"stateKey" validate:"required"`
	Score     *float64 `json:"score" validate:"required"`
}

type TimeStepResponse struct {
	Length int `json:"length"`
}

// UpdateScoreResponse mirrors session.Credit.
type UpdateScoreResponse = session.Credit

// #endregion window

// #region step
// StepRequest reports the agent's current state. ActionTaken defaults to the action
// sub-vector of the state.
type StepRequest struct {
	point.Point
	ActionTaken string   `json:"actionTaken"`
	Score       *float64 `json:"score" validate:"required"`
}

type StepResponse struct {
	Cycle         uint64                `json:"cycle"`
	NearestKey    string                `json:"nearestPattern"`
	PatternString string                `json:"patternString"`
	Action        store.ActionRow       `json:"action"`
	Credit        *session.Credit       `json:"credit,omitempty"`
	Split         *session.SplitOutcome `json:"split,omitempty"`
}

// NewStepResponse converts a cycle result.
func NewStepResponse(r session.StepResult) StepResponse {
	return StepResponse{
		Cycle:         r.Cycle,
		NearestKey:    r.NearestKey,
		PatternString: r.CellKey,
		Action:        r.Action,
		Credit:        r.Credit,
		Split:         r.Split,
	}
}

// #endregion step

// #region misc
// LogRequest is one record from an agent's own log.
type LogRequest struct {
	Level  string                 `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Msg    string                 `json:"msg" validate:"required"`
	Fields map[string]interface{} `json:"fields"`
}

type JournalResponse struct {
	Entries []store.JournalEntry `json:"entries"`
}

type HealthResponse struct {
	Status      string `json:"status"`
	Session     string `json:"session"`
	Initialized bool   `json:"initialized"`
	Cells       int    `json:"cells"`
	Window      int    `json:"window"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// #endregion misc

// #region struct-codec
// ToStruct converts any JSON-encodable value into a protobuf Struct.
func ToStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := s.UnmarshalJSON(b); err != nil {
		return nil, fmt.Errorf("encode %T as struct: %w", v, err)
	}
	return s, nil
}

// FromStruct decodes a protobuf Struct into v. A nil Struct leaves v untouched.
func FromStruct(s *structpb.Struct, v interface{}) error {
	if s == nil {
		return nil
	}
	b, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode struct: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: decode %T: %v", errs.ErrValidation, v, err)
	}
	return nil
}

// #endregion struct-codec
