package health

import (
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCBridge 把监控结果同步到标准gRPC健康检查服务
//
// 服务名""表示系统整体状态，其余服务名对应各组件。
type GRPCBridge struct {
	server *grpchealth.Server
}

// NewGRPCBridge 创建gRPC健康检查桥接
func NewGRPCBridge() *GRPCBridge {
	return &GRPCBridge{server: grpchealth.NewServer()}
}

// Register 在gRPC服务器上注册健康检查服务
func (b *GRPCBridge) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, b.server)
}

// Server 返回底层健康检查服务
func (b *GRPCBridge) Server() *grpchealth.Server {
	return b.server
}

// Update 按系统状态更新各服务的serving状态
func (b *GRPCBridge) Update(status SystemStatus) {
	b.server.SetServingStatus("", ServingStatus(status.Status))
	for _, check := range status.Checks {
		b.server.SetServingStatus(check.Component, ServingStatus(check.Status))
	}
}

// Shutdown 把所有服务置为NOT_SERVING
func (b *GRPCBridge) Shutdown() {
	b.server.Shutdown()
}

// ServingStatus 把健康状态映射为gRPC serving状态，降级仍视为可服务
func ServingStatus(s Status) healthpb.HealthCheckResponse_ServingStatus {
	switch s {
	case StatusHealthy, StatusDegraded:
		return healthpb.HealthCheckResponse_SERVING
	case StatusUnhealthy:
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_UNKNOWN
}
