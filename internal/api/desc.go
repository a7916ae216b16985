package api

import (
	"context"

	"google.golang.org/grpc"
)

// Fully-qualified service names.
const (
	sessionServiceName = "chatsync.v1.SessionService"
	syncServiceName    = "chatsync.v1.SyncService"
	chatServiceName    = "chatsync.v1.ChatService"
	messageServiceName = "chatsync.v1.MessageService"
)

// Service is a chat service the daemon registers on its gRPC server.
type Service interface {
	Desc() *grpc.ServiceDesc
}

// Register adds every service to srv.
func Register(srv grpc.ServiceRegistrar, services ...Service) {
	for _, s := range services {
		srv.RegisterService(s.Desc(), s)
	}
}

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unary builds the method descriptor for a handler of the form
// func(*Service, ctx, *Req) (*Resp, error).
func unary[S, Req, Resp any](service, name string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			})
		},
	}
}

// invoke performs a unary call with the JSON codec.
func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, service, name string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append(opts, grpc.CallContentSubtype(Codec))
	if err := cc.Invoke(ctx, fullMethod(service, name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
