// Package observability provides OpenTelemetry metrics exported in the
// Prometheus format.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"releasepipe/internal/pipeline"
)

// Attribute keys
const (
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
	attrJob    = "job"
	attrResult = "result"
	attrKind   = "kind"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

// statusAttr groups HTTP codes: 2xx, 4xx, 5xx.
func statusAttr(code int) attribute.KeyValue {
	return attribute.String(attrStatus, fmt.Sprintf("%dxx", code/100))
}

func jobAttr(job pipeline.JobID) attribute.KeyValue {
	return attribute.String(attrJob, string(job))
}

func resultAttr(status pipeline.Status) attribute.KeyValue {
	return attribute.String(attrResult, string(status))
}

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String(attrKind, kind)
}

// normalizePath replaces run IDs so the path label stays low-cardinality.
func normalizePath(path string) string {
	const prefix = "/v1/runs/"
	if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
		return prefix + "{runId}"
	}
	return path
}
