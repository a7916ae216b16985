package api

import (
	"context"
	"errors"
	"net"

	"github.com/aushilfapp/chatsync/internal/category"
	"github.com/aushilfapp/chatsync/internal/chatinit"
	"github.com/aushilfapp/chatsync/internal/remote"
	"github.com/aushilfapp/chatsync/internal/store"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// errInvalid marks request validation failures raised by the services.
var errInvalid = errors.New("invalid argument")

// toStatus maps engine errors onto gRPC codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	var netErr net.Error
	switch {
	case errors.Is(err, errInvalid),
		errors.Is(err, category.ErrInvalid),
		errors.Is(err, chatinit.ErrMissingRecipient),
		errors.Is(err, chatinit.ErrOwnPost):
		code = codes.InvalidArgument
	case errors.Is(err, store.ErrNotFound), errors.Is(err, remote.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, remote.ErrNoSession), errors.Is(err, chatinit.ErrMissingUser):
		code = codes.FailedPrecondition
	case errors.Is(err, remote.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.As(err, &netErr):
		code = codes.Unavailable
	}
	return grpcstatus.Errorf(code, "%s: %v", op, err)
}

func required(field, value string) error {
	if value == "" {
		return grpcstatus.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return nil
}
