package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/wire"
)

// #region client-struct
// Client wraps a gRPC connection to an ihtaid server.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to the server at addr without transport security.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn uses an existing connection, which the caller keeps ownership of.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region invoke
func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	in, err := wire.ToStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out); err != nil {
		return fmt.Errorf("%s rpc: %w", method, FromStatus(err))
	}
	if resp == nil {
		return nil
	}
	return wire.FromStruct(out, resp)
}

// #endregion invoke

// #region calls
func (c *Client) Initialize(ctx context.Context, points []point.Point, alphabet point.Alphabet) (wire.InitializeResponse, error) {
	var resp wire.InitializeResponse
	err := c.invoke(ctx, "Initialize", wire.InitializeRequest{StartingData: points, PossibleActionValues: alphabet}, &resp)
	return resp, err
}

func (c *Client) InitializeFromStore(ctx context.Context, alphabet point.Alphabet) (int, error) {
	var resp wire.InitializeFromStoreResponse
	err := c.invoke(ctx, "InitializeFromStore", wire.InitializeFromStoreRequest{PossibleActionValues: alphabet}, &resp)
	return resp.Cells, err
}

func (c *Client) Nearest(ctx context.Context, p point.Point) (string, error) {
	var resp wire.NearestResponse
	err := c.invoke(ctx, "Nearest", p, &resp)
	return resp.PatternString, err
}

func (c *Client) AddTimeStep(ctx context.Context, actionKey, stateKey string, score float64) (int, error) {
	var resp wire.TimeStepResponse
	err := c.invoke(ctx, "AddTimeStep", wire.TimeStepRequest{ActionKey: actionKey, StateKey: stateKey, Score: &score}, &resp)
	return resp.Length, err
}

func (c *Client) UpdateScore(ctx context.Context) (wire.UpdateScoreResponse, error) {
	var resp wire.UpdateScoreResponse
	err := c.invoke(ctx, "UpdateScore", struct{}{}, &resp)
	return resp, err
}

func (c *Client) BestNextAction(ctx context.Context, key string) (wire.BestActionResponse, error) {
	var resp wire.BestActionResponse
	err := c.invoke(ctx, "BestNextAction", wire.CellRequest{PatternString: key}, &resp)
	return resp, err
}

func (c *Client) Split(ctx context.Context, originalKey string, p point.Point) (string, error) {
	var resp wire.SplitResponse
	err := c.invoke(ctx, "Split", wire.SplitRequest{Original: originalKey, NewPoint: p}, &resp)
	return resp.PatternString, err
}

func (c *Client) DeleteCell(ctx context.Context, key string) error {
	return c.invoke(ctx, "DeleteCell", wire.CellRequest{PatternString: key}, nil)
}

func (c *Client) AccessRate(ctx context.Context, key string) (float64, error) {
	var resp wire.AccessRateResponse
	err := c.invoke(ctx, "AccessRate", wire.CellRequest{PatternString: key}, &resp)
	return resp.UpdatesPerMinute, err
}

// Step runs one full cycle on the server.
func (c *Client) Step(ctx context.Context, p point.Point, actionTaken string, score float64) (wire.StepResponse, error) {
	var resp wire.StepResponse
	err := c.invoke(ctx, "Step", wire.StepRequest{Point: p, ActionTaken: actionTaken, Score: &score}, &resp)
	return resp, err
}

func (c *Client) Cells(ctx context.Context) (wire.CellsResponse, error) {
	var resp wire.CellsResponse
	err := c.invoke(ctx, "Cells", struct{}{}, &resp)
	return resp, err
}

func (c *Client) Clear(ctx context.Context) error {
	return c.invoke(ctx, "Clear", struct{}{}, nil)
}

// #endregion calls
