package es

import (
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	consumerOpts struct {
		mws             []HandlerMiddleware
		log             *slog.Logger
		name            string
		filters         []SubscribeFilter
		metrics         Metrics
		shutdownTimeout time.Duration
	}

	ConsumerOption interface {
		applyToConsumerOpts(*consumerOpts)
	}

	ConsumerNameOption valueOption[string]
	MiddlewareOption   valueOption[[]HandlerMiddleware]
	FilterOption       valueOption[[]SubscribeFilter]
	ConsumerOptions    MultiOption[ConsumerOption]
)

func (o ConsumerNameOption) applyToConsumerOpts(opts *consumerOpts) { opts.name = o.v }
func (o MiddlewareOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.mws = append(opts.mws, o.v...)
}
func (o FilterOption) applyToConsumerOpts(opts *consumerOpts) {
	opts.filters = append(opts.filters, o.v...)
}
func (o LogOption) applyToConsumerOpts(opts *consumerOpts)     { opts.log = o.l }
func (o MetricsOption) applyToConsumerOpts(opts *consumerOpts) { opts.metrics = o.m }
func (o ConsumerOptions) applyToConsumerOpts(opts *consumerOpts) {
	for _, opt := range o.opts {
		opt.applyToConsumerOpts(opts)
	}
}

func WithConsumerName(name string) ConsumerNameOption { return ConsumerNameOption{name} }
func WithMiddlewares(mws ...HandlerMiddleware) MiddlewareOption {
	return MiddlewareOption{v: mws}
}
func WithConsumerFilters(filters ...SubscribeFilter) FilterOption {
	return FilterOption{v: filters}
}
func WithConsumerOpts(opts ...ConsumerOption) ConsumerOptions { return ConsumerOptions{opts: opts} }

func newConsumerOpts(opts ...ConsumerOption) consumerOpts {
	options := consumerOpts{
		log:             slog.Default(),
		name:            fmt.Sprintf("consumer-%s", gonanoid.Must(6)),
		metrics:         NopMetrics(),
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt.applyToConsumerOpts(&options)
	}
	return options
}
