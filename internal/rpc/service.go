// Package rpc serves a session over gRPC. Messages are google.protobuf.Struct values
// carrying the same JSON bodies as the HTTP API, so no generated code is needed.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "ihtai.v1.Quantizer"

// #region server-interface
// QuantizerServer is implemented by Server.
type QuantizerServer interface {
	Initialize(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InitializeFromStore(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Nearest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddTimeStep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateScore(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BestNextAction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Split(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteCell(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AccessRate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Step(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cells(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Clear(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// #endregion server-interface

// #region service-desc
type call func(QuantizerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn call) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(QuantizerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv.(QuantizerServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes the Quantizer service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QuantizerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Initialize", QuantizerServer.Initialize),
		unary("InitializeFromStore", QuantizerServer.InitializeFromStore),
		unary("Nearest", QuantizerServer.Nearest),
		unary("AddTimeStep", QuantizerServer.AddTimeStep),
		unary("UpdateScore", QuantizerServer.UpdateScore),
		unary("BestNextAction", QuantizerServer.BestNextAction),
		unary("Split", QuantizerServer.Split),
		unary("DeleteCell", QuantizerServer.DeleteCell),
		unary("AccessRate", QuantizerServer.AccessRate),
		unary("Step", QuantizerServer.Step),
		unary("Cells", QuantizerServer.Cells),
		unary("Clear", QuantizerServer.Clear),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ihtai/v1/quantizer.proto",
}

// Register attaches srv to s.
func Register(s *grpc.Server, srv QuantizerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns "/ihtai.v1.Quantizer/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// #endregion service-desc

// #region status-mapping
var sentinelCodes = []struct {
	err  error
	code codes.Code
}{
	{errs.ErrValidation, codes.InvalidArgument},
	{errs.ErrNoSuchCell, codes.NotFound},
	{errs.ErrAlreadyExists, codes.AlreadyExists},
	{errs.ErrAlreadyInitialized, codes.AlreadyExists},
	{errs.ErrInsufficientHistory, codes.FailedPrecondition},
	{errs.ErrNotInitialized, codes.FailedPrecondition},
	{errs.ErrCapacity, codes.ResourceExhausted},
	{errs.ErrStore, codes.Internal},
}

// ToStatus converts a sentinel-wrapped error into a gRPC status error.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return status.Error(sc.code, err.Error())
		}
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus converts a gRPC status error back into the matching sentinel so callers
// can use errors.Is. When a code is shared, the sentinel named in the message wins.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.OK {
		return err
	}
	var match error
	for _, sc := range sentinelCodes {
		if st.Code() != sc.code {
			continue
		}
		if strings.Contains(st.Message(), sc.err.Error()) {
			match = sc.err
			break
		}
		if match == nil {
			match = sc.err
		}
	}
	if match == nil {
		return err
	}
	return fmt.Errorf("%w: %s", match, st.Message())
}

// #endregion status-mapping
