// Package workshop implements the HTTP API of the workshop apps: a todo
// list, a shared checkbox game and a polling board. Mutations are applied to
// a Backend and answered with the txid of the committing transaction, which
// clients use to confirm the write on the replicated shape stream.
package workshop

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

type (
	Server struct {
		backend Backend
		options *Options
	}

	Options struct {
		logger   logrus.FieldLogger
		shapes   ShapeSource
		notifier Notifier
	}

	// ShapeSource returns the handler serving the shape stream of table.
	ShapeSource func(table string) http.Handler

	// Notifier is told about every committed mutation.
	Notifier interface {
		Publish(table string, txid Txid)
	}
)

type Option func(o *Options)

func New(backend Backend, options ...Option) *Server {
	opts := &Options{
		logger:   logrus.StandardLogger(),
		notifier: nopNotifier{},
	}
	for _, option := range options {
		option(opts)
	}

	return &Server{
		backend: backend,
		options: opts,
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) {
		o.logger = logger
	}
}

// WithShapes sets where /shape/{table} requests are served from, usually a
// shape.Proxy to the change-stream service.
func WithShapes(source ShapeSource) Option {
	return func(o *Options) {
		o.shapes = source
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *Options) {
		o.notifier = n
	}
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, Txid) {}
