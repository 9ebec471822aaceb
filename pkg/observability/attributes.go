package observability

import "go.opentelemetry.io/otel/attribute"

// ReleaseOperation returns attributes for an operation on one release.
func ReleaseOperation(op, packageID, version string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("relreg.operation", op),
		attribute.String("relreg.package.id", packageID),
		attribute.String("relreg.release.version", version),
	}
}

// PackageOperation returns attributes for an operation spanning a package.
func PackageOperation(op, packageID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("relreg.operation", op),
		attribute.String("relreg.package.id", packageID),
	}
}

// Outcome tags an operation result code.
func Outcome(code string) attribute.KeyValue {
	return attribute.String("relreg.outcome", code)
}
