// Package statsd is a helper package that wraps some common statsd methods.
// It hides the datadog dependency so if we decide to migrate away from datadog in the future, we only need to
// edit this single file.
package statsd

import (
	"strings"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

// SetClient replaces the global client and returns the previous one.
func SetClient(c ddstatsd.ClientInterface) ddstatsd.ClientInterface {
	prev := client
	client = c
	return prev
}

// EmitTiming reports the time elapsed since start under metric.
func EmitTiming(start time.Time, metric string, tags ...string) {
	err := Client().Timing(metric, time.Since(start), tags, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit %s stat: %v", metric, err)
	}
}

func EmitCount(metric string, value int64, tags ...string) {
	err := Client().Count(metric, value, tags, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit %s stat: %v", metric, err)
	}
}

func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("entitystore"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "")
	}
	// Success! replace the global client
	client = newClient
	return nil
}

// TraceAttributes converts metric tags ("key:value") into span attributes so a span and the metric it times carry
// the same labels.
func TraceAttributes(tags []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for _, tag := range tags {
		key, value := tagToTraceTag(tag)
		if key == "" {
			continue
		}
		if value == nil {
			attrs = append(attrs, attribute.Bool(key, true))
			continue
		}
		attrs = append(attrs, attribute.String(key, value.(string)))
	}
	return attrs
}

func tagToTraceTag(tag string) (string, any) {
	key, value, _ := strings.Cut(tag, ":")
	if key == "" {
		return value, nil
	}
	if value == "" {
		return key, nil
	}
	return key, value
}
