package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"healthmate/internal/domain"
	"healthmate/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	queryServiceName    = "healthmate.engagement.v1.EngagementQuery"
	methodGetEngagement = "/" + queryServiceName + "/GetEngagement"
	methodListMessages  = "/" + queryServiceName + "/ListMessages"
)

// EngagementQueryServer is the read-only internal view of the ledger. Both
// methods take the engagement id and answer with a JSON-shaped Struct.
type EngagementQueryServer interface {
	GetEngagement(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
	ListMessages(ctx context.Context, id *wrapperspb.StringValue) (*structpb.Struct, error)
}

var engagementQueryServiceDesc = grpc.ServiceDesc{
	ServiceName: queryServiceName,
	HandlerType: (*EngagementQueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetEngagement", Handler: getEngagementHandler},
		{MethodName: "ListMessages", Handler: listMessagesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "healthmate/engagement/v1/query.proto",
}

func RegisterEngagementQueryServer(s grpc.ServiceRegistrar, srv EngagementQueryServer) {
	s.RegisterService(&engagementQueryServiceDesc, srv)
}

func getEngagementHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngagementQueryServer).GetEngagement(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetEngagement}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EngagementQueryServer).GetEngagement(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func listMessagesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EngagementQueryServer).ListMessages(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodListMessages}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EngagementQueryServer).ListMessages(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// EngagementQueryClient calls the query service over a client connection.
type EngagementQueryClient struct {
	cc grpc.ClientConnInterface
}

func NewEngagementQueryClient(cc grpc.ClientConnInterface) *EngagementQueryClient {
	return &EngagementQueryClient{cc: cc}
}

func (c *EngagementQueryClient) GetEngagement(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetEngagement, wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *EngagementQueryClient) ListMessages(ctx context.Context, id string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodListMessages, wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type engagementReader interface {
	Get(ctx context.Context, id string) (*models.Engagement, error)
}

type messageReader interface {
	ListByEngagement(ctx context.Context, engagementID string) ([]*models.Message, error)
}

// QueryService serves EngagementQuery from the ledger and message log.
type QueryService struct {
	engagements engagementReader
	messages    messageReader
}

func NewQueryService(engagements engagementReader, messages messageReader) *QueryService {
	return &QueryService{engagements: engagements, messages: messages}
}

func (s *QueryService) GetEngagement(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "engagement id is required")
	}

	e, err := s.engagements.Get(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(e)
}

func (s *QueryService) ListMessages(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "engagement id is required")
	}

	msgs, err := s.messages.ListByEngagement(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{
		"engagement_id": id,
		"messages":      msgs,
	})
}

// toStruct round-trips v through its JSON form so the Struct matches the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
