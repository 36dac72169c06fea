package rpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/ihtai/internal/metrics"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/session"
	"github.com/danielpatrickdp/ihtai/internal/wire"
)

// #region server
// Server implements QuantizerServer over one session.
type Server struct {
	sess *session.Session
}

func NewServer(sess *session.Session) *Server {
	return &Server{sess: sess}
}

// NewGRPCServer builds a grpc.Server with the observing interceptor and srv registered.
func NewGRPCServer(srv QuantizerServer, logger *slog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryObserve(logger)))
	s := grpc.NewServer(opts...)
	Register(s, srv)
	return s
}

// #endregion server

// #region handlers
// handle decodes and validates the request, runs fn, and encodes its response.
func handle[Req any, Resp any](ctx context.Context, in *structpb.Struct, fn func(context.Context, Req) (Resp, error)) (*structpb.Struct, error) {
	var req Req
	if err := wire.FromStruct(in, &req); err != nil {
		return nil, ToStatus(err)
	}
	if err := wire.Validate(&req); err != nil {
		return nil, ToStatus(err)
	}
	resp, err := fn(ctx, req)
	if err != nil {
		return nil, ToStatus(err)
	}
	out, err := wire.ToStruct(resp)
	if err != nil {
		return nil, ToStatus(err)
	}
	return out, nil
}

type empty struct{}

func (s *Server) Initialize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req wire.InitializeRequest) (wire.InitializeResponse, error) {
		created, err := s.sess.Initialize(ctx, req.StartingData, req.PossibleActionValues)
		if err != nil {
			return wire.InitializeResponse{}, err
		}
		return wire.InitializeResponse{Created: created, Cells: s.sess.Index().CellCount()}, nil
	})
}

func (s *Server) InitializeFromStore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req wire.InitializeFromStoreRequest) (wire.InitializeFromStoreResponse, error) {
		n, err := s.sess.InitializeFromStore(ctx, req.PossibleActionValues)
		return wire.InitializeFromStoreResponse{Cells: n}, err
	})
}

func (s *Server) Nearest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, p point.Point) (wire.NearestResponse, error) {
		key, err := s.sess.Nearest(ctx, p)
		return wire.NearestResponse{PatternString: key}, err
	})
}

func (s *Server) AddTimeStep(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(_ context.Context, req wire.TimeStepRequest) (wire.TimeStepResponse, error) {
		return wire.TimeStepResponse{Length: s.sess.AddTimeStep(req.ActionKey, req.StateKey, *req.Score)}, nil
	})
}

func (s *Server) UpdateScore(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, _ empty) (wire.UpdateScoreResponse, error) {
		return s.sess.UpdateScore(ctx)
	})
}

func (s *Server) BestNextAction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req wire.CellRequest) (wire.BestActionResponse, error) {
		row, err := s.sess.BestNextAction(ctx, req.PatternString)
		return wire.BestActionResponse{PatternString: point.NormalizeKey(req.PatternString), Action: row}, err
	})
}

func (s *Server) Split(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req wire.SplitRequest) (wire.SplitResponse, error) {
		key, err := s.sess.Split(ctx, req.Original, req.NewPoint)
		return wire.SplitResponse{PatternString: key}, err
	})
}

func (s *Server) DeleteCell(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req wire.CellRequest) (wire.DeleteResponse, error) {
		key := point.NormalizeKey(req.PatternString)
		return wire.DeleteResponse{Deleted: key}, s.sess.DeleteCell(ctx, key)
	})
}

func (s *Server) AccessRate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req wire.CellRequest) (wire.AccessRateResponse, error) {
		r, err := s.sess.AccessRate(ctx, req.PatternString)
		return wire.AccessRateResponse{PatternString: point.NormalizeKey(req.PatternString), UpdatesPerMinute: r}, err
	})
}

func (s *Server) Step(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, req wire.StepRequest) (wire.StepResponse, error) {
		res, err := s.sess.Step(ctx, session.StepInput{Point: req.Point, ActionTaken: req.ActionTaken, Score: *req.Score})
		if err != nil {
			return wire.StepResponse{}, err
		}
		return wire.NewStepResponse(res), nil
	})
}

func (s *Server) Cells(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, _ empty) (wire.CellsResponse, error) {
		cells, err := s.sess.Cells(ctx)
		return wire.CellsResponse{Cells: cells}, err
	})
}

func (s *Server) Clear(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return handle(ctx, in, func(ctx context.Context, _ empty) (empty, error) {
		return empty{}, s.sess.Clear(ctx)
	})
}

// #endregion handlers

// #region interceptor
// UnaryObserve records latency per method and logs failures.
func UnaryObserve(logger *slog.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		metrics.ObserveRequest("grpc", info.FullMethod, code.String(), time.Since(start))
		if err != nil {
			logger.Debug("rpc failed", "method", info.FullMethod, "code", code.String(), "error", err)
		}
		return resp, err
	}
}

// #endregion interceptor
