package observe

import (
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Identity names the service that emits telemetry. Its tags are stamped on
// every span started through a Tracer and on every measurement recorded
// through Metrics.
type Identity struct {
	ServiceName string
	Version     string
	Namespace   string
	InstanceID  string

	// Attributes are emitted as service.<key>. Keys already carrying the
	// service. prefix are used as-is.
	Attributes map[string]string
}

// KeyValues returns the identity tags in a stable order. Empty values are
// omitted.
func (id Identity) KeyValues() []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, 4+len(id.Attributes))
	if id.ServiceName != "" {
		kvs = append(kvs, attribute.String("service.name", id.ServiceName))
	}
	if id.Version != "" {
		kvs = append(kvs, attribute.String("service.version", id.Version))
	}
	if id.Namespace != "" {
		kvs = append(kvs, attribute.String("service.namespace", id.Namespace))
	}
	if id.InstanceID != "" {
		kvs = append(kvs, attribute.String("service.instance.id", id.InstanceID))
	}

	keys := make([]string, 0, len(id.Attributes))
	for k := range id.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := id.Attributes[k]
		if k == "" || v == "" {
			continue
		}
		if !strings.HasPrefix(k, "service.") {
			k = "service." + k
		}
		kvs = append(kvs, attribute.String(k, v))
	}
	return kvs
}
