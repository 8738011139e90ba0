package trace

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const (
	ExporterNone   = ""
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
)

type Config struct {
	Exporter string `mapstructure:"exporter" yaml:"exporter"` // otlp | stdout | 空为关闭
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"` // OTLP gRPC 地址，例如 localhost:4317
}

// InitTrace 初始化 OpenTelemetry TracerProvider，返回退出时调用的关闭函数。
// Exporter 为空时不替换全局 provider，span 都是 no-op
func InitTrace(serviceName string, cfg Config) (func(context.Context) error, error) {
	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterOTLP:
		otlpClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(), // 没有tls
		)
		exp, err := otlptrace.New(ctx, otlpClient)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		exporter = exp
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stdout))
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}

	// 资源信息：service.name 等
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}
