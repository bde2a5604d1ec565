// Package grpcserver serves the credit ledger to internal callers over gRPC. Messages are
// google.protobuf.Struct values, so the service is registered with a hand-written descriptor.
package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "roomledger.credits.v1.CreditService"

	methodGetBalance  = "GetBalance"
	methodDebit       = "Debit"
	methodCredit      = "Credit"
	methodListEntries = "ListEntries"
	methodConfirm     = "ConfirmPurchase"
)

// CreditService is the server contract for ServiceDesc.
type CreditService interface {
	GetBalance(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Debit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	Credit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ListEntries(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
	ConfirmPurchase(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the CreditService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CreditService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodGetBalance, Handler: unaryHandler(methodGetBalance, CreditService.GetBalance)},
		{MethodName: methodDebit, Handler: unaryHandler(methodDebit, CreditService.Debit)},
		{MethodName: methodCredit, Handler: unaryHandler(methodCredit, CreditService.Credit)},
		{MethodName: methodListEntries, Handler: unaryHandler(methodListEntries, CreditService.ListEntries)},
		{MethodName: methodConfirm, Handler: unaryHandler(methodConfirm, CreditService.ConfirmPurchase)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "roomledger/credits/v1/credit.proto",
}

// Register attaches service to registrar.
func Register(registrar grpc.ServiceRegistrar, service CreditService) {
	registrar.RegisterService(&ServiceDesc, service)
}

type unaryMethod func(CreditService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(methodName string, method unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(server interface{}, ctx context.Context, decode func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		request := new(structpb.Struct)
		if err := decode(request); err != nil {
			return nil, err
		}
		service := server.(CreditService)
		if interceptor == nil {
			return method(service, ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(methodName)}
		return interceptor(ctx, request, info, func(ctx context.Context, request interface{}) (interface{}, error) {
			return method(service, ctx, request.(*structpb.Struct))
		})
	}
}

func fullMethod(methodName string) string {
	return "/" + ServiceName + "/" + methodName
}

// Client calls CreditService over conn.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (client *Client) invoke(ctx context.Context, methodName string, fields map[string]any) (*structpb.Struct, error) {
	request, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	response := new(structpb.Struct)
	if err := client.conn.Invoke(ctx, fullMethod(methodName), request, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) GetBalance(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	return client.invoke(ctx, methodGetBalance, fields)
}

func (client *Client) Debit(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	return client.invoke(ctx, methodDebit, fields)
}

func (client *Client) Credit(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	return client.invoke(ctx, methodCredit, fields)
}

func (client *Client) ListEntries(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	return client.invoke(ctx, methodListEntries, fields)
}

func (client *Client) ConfirmPurchase(ctx context.Context, fields map[string]any) (*structpb.Struct, error) {
	return client.invoke(ctx, methodConfirm, fields)
}
