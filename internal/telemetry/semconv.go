// Package telemetry provides semantic conventions for Missiongate observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for Missiongate-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name
const (
	// Oracle attributes
	AttrAsset      = attribute.Key("asset")
	AttrOracleMode = attribute.Key("oracle.mode")

	// Mission attributes
	AttrMissionID = attribute.Key("mission.id")
	AttrEventType = attribute.Key("event.type")
	AttrUser      = attribute.Key("user")

	// Operation attributes
	AttrOperation = attribute.Key("operation")
	AttrResult    = attribute.Key("result")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")

	// Error attributes
	AttrErrorType = attribute.Key("error.type")
	AttrReason    = attribute.Key("reason")
)

// Event type values
const (
	EventTypeMissionOpened        = "mission.opened"
	EventTypeMissionCompleted     = "mission.completed"
	EventTypeStakeCreated         = "stake.created"
	EventTypeContributionRecorded = "contribution.recorded"
)

// Oracle mode values
const (
	OracleModeREST = "rest"
	OracleModeMock = "mock"
)

// Helper functions for creating common attribute sets

// OracleAttributes returns common attributes for oracle read metrics.
func OracleAttributes(environment, mode, asset string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOracleMode.String(mode),
		AttrAsset.String(asset),
	}
}

// MissionAttributes returns common attributes for mission lifecycle metrics.
func MissionAttributes(environment, eventType string, missionID uint64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrEventType.String(eventType),
		AttrMissionID.Int64(int64(missionID)),
	}
}

// ErrorAttributes returns attributes for error metrics.
func ErrorAttributes(environment, errorType, reason string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrErrorType.String(errorType),
		AttrReason.String(reason),
	}
}

// OperationResultAttributes returns attributes for operation metrics with result classification.
func OperationResultAttributes(environment, operation, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrOperation.String(operation),
		AttrResult.String(result),
	}
}
