// Package grpc mirrors the public issuance endpoint over gRPC.
package grpc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc"
	grpcCodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/turtacn/qrgate/pkg/errors"
	"github.com/turtacn/qrgate/pkg/logger"
)

// InterceptorChain 拦截器链
type InterceptorChain struct {
	ips *ClientIPResolver
	log logger.Logger
}

// NewInterceptorChain 创建拦截器链
func NewInterceptorChain(ips *ClientIPResolver, log logger.Logger) *InterceptorChain {
	return &InterceptorChain{ips: ips, log: log.WithComponent("grpc")}
}

// UnaryRecoveryInterceptor 恢复拦截器(捕获 panic)
func (ic *InterceptorChain) UnaryRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				ic.log.Error(ctx, "gRPC handler panic recovered", fmt.Errorf("%v", r),
					logger.String("method", info.FullMethod),
				)
				err = status.Error(grpcCodes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// UnaryLoggingInterceptor 日志拦截器
func (ic *InterceptorChain) UnaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		startTime := time.Now()

		var userAgent string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if agents := md.Get("user-agent"); len(agents) > 0 {
				userAgent = agents[0]
			}
		}

		resp, err := handler(ctx, req)

		statusCode := grpcCodes.OK
		if err != nil {
			statusCode = status.Code(err)
		}
		fields := []logger.Field{
			logger.String("method", info.FullMethod),
			logger.String("client_ip", ic.ips.Resolve(ctx)),
			logger.String("user_agent", userAgent),
			logger.Int64("duration_ms", time.Since(startTime).Milliseconds()),
			logger.String("status", statusCode.String()),
		}
		if statusCode == grpcCodes.Internal || statusCode == grpcCodes.Unknown {
			ic.log.Error(ctx, "gRPC request failed", err, fields...)
		} else {
			ic.log.Info(ctx, "gRPC request completed", fields...)
		}
		return resp, err
	}
}

// UnaryErrorInterceptor 错误转换拦截器(将领域错误转换为 gRPC 状态码)
func (ic *InterceptorChain) UnaryErrorInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}
		return resp, toGRPCError(err)
	}
}

// toGRPCError maps an application error onto the closest gRPC status code.
// Errors that already carry a status pass through.
func toGRPCError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	appErr, ok := errors.AsAppError(err)
	if !ok {
		return status.Error(grpcCodes.Internal, "internal server error")
	}

	code := grpcCodes.Internal
	switch appErr.HTTPStatus() {
	case http.StatusBadRequest:
		code = grpcCodes.InvalidArgument
	case http.StatusUnauthorized:
		code = grpcCodes.Unauthenticated
	case http.StatusForbidden:
		code = grpcCodes.PermissionDenied
	case http.StatusNotFound:
		code = grpcCodes.NotFound
	case http.StatusConflict:
		code = grpcCodes.FailedPrecondition
	case http.StatusTooManyRequests:
		code = grpcCodes.ResourceExhausted
	case http.StatusServiceUnavailable:
		code = grpcCodes.Unavailable
	}
	return status.Errorf(code, "%s: %s", appErr.Code(), errors.Message(appErr))
}

// ChainUnaryInterceptors 链式调用所有拦截器
func (ic *InterceptorChain) ChainUnaryInterceptors() grpc.ServerOption {
	return grpc.ChainUnaryInterceptor(
		ic.UnaryRecoveryInterceptor(), // 1. 恢复 panic
		ic.UnaryLoggingInterceptor(),  // 2. 日志
		ic.UnaryErrorInterceptor(),    // 3. 错误转换
	)
}
