// Package tracing provides the tracers of the transactions. A tracer reports
// to a jaeger agent configured from the environment.
package tracing

import (
	"io"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

type key int

// LabelKey is the key used to denote a transaction label in a
// `context.Context`.
const LabelKey key = iota

var (
	// LabelTag is the span tag used for the label of a transaction.
	LabelTag = "label"
	// TraceTag is the span tag used for the correlation id of a transaction.
	TraceTag = "trace"
	// UndefinedLabel is the default LabelTag value used if no LabelKey is
	// present in the context.
	UndefinedLabel = "__UNDEFINED_LABEL__"
)

type tracerCatalog struct {
	sync.Mutex
	tracerByService map[string]closableTracer
}

type closableTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

var catalog = tracerCatalog{
	tracerByService: make(map[string]closableTracer),
}

// GetTracer returns an `opentracing.Tracer` instance for the given service
// name. Since the tracers are cached, it returns an existing one if it has been
// initialized before.
func GetTracer(service string) (opentracing.Tracer, error) {
	catalog.Lock()
	defer catalog.Unlock()

	tc, ok := catalog.tracerByService[service]
	if ok {
		return tc.tracer, nil
	}

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("error parsing jaeger configuration from environment: %v", err)
	}

	cfg.ServiceName = service

	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("error creating new tracer: %v", err)
	}

	catalog.tracerByService[service] = closableTracer{
		tracer: tracer,
		closer: closer,
	}

	return tracer, nil
}

// CloseAll closes all the tracer instances.
func CloseAll() error {
	catalog.Lock()
	defer catalog.Unlock()

	for service, tc := range catalog.tracerByService {
		err := tc.closer.Close()
		if err != nil {
			return xerrors.Errorf("failed to close tracer of '%s': %v", service, err)
		}

		delete(catalog.tracerByService, service)
	}

	return nil
}
