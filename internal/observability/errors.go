package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors folds the non-nil errors from a multi-step operation into
// one error, logging the failure once with every message attached. Returns
// nil when nothing failed.
func AggregateErrors(operation string, errs []error, fields ...Field) error {
	var failed []error
	var messages []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, err)
		messages = append(messages, err.Error())
	}
	if len(failed) == 0 {
		return nil
	}
	Log().Error("operation errors", append(fields,
		F("operation", operation),
		F("error_count", len(failed)),
		F("errors", messages),
	)...)
	return fmt.Errorf("%s failed: %w", operation, errors.Join(failed...))
}
