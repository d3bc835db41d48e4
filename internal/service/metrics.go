package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shoecom/stockledger/pkg/tracing"
)

var (
	// MovementsTotal counts committed movements.
	MovementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stock_movements_total",
			Help: "Total number of committed stock movements",
		},
		[]string{"operation", "actor"},
	)

	// InsufficientTotal counts updates rejected because a decrement would go below zero.
	InsufficientTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stock_insufficient_total",
			Help: "Total number of stock updates rejected for insufficient stock",
		},
	)

	// BatchSize observes the number of items per committed batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stock_batch_size",
			Help:    "Number of items applied per stock batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)
)

var tracer = tracing.Tracer("github.com/shoecom/stockledger/internal/service")

// startSpan starts a service span. The returned function ends it and records
// err when non-nil.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}
