package queue

import (
	"encoding/json"
	"fmt"

	"github.com/arbiter-hq/arbiter/internal/arberr"
)

// AdmissionConfig bounds what Enqueue will accept, applied before a task
// is inserted into any lane.
type AdmissionConfig struct {
	MaxDescriptionLen int
	MaxMetadataBytes  int
	AllowedTaskTypes  map[string]bool
}

func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		MaxDescriptionLen: 8192,
		MaxMetadataBytes:  4096,
		AllowedTaskTypes:  nil, // nil means "no restriction"
	}
}

// validate runs every admission check and returns the first violation,
// wrapped as a KindValidation arberr so callers never need to special-case
// which specific rule tripped.
func (c AdmissionConfig) validate(t Task) error {
	if len(t.Description) > c.MaxDescriptionLen {
		return arberr.New(arberr.KindValidation, "description_too_long",
			fmt.Sprintf("description length %d exceeds %d", len(t.Description), c.MaxDescriptionLen))
	}
	if c.AllowedTaskTypes != nil && !c.AllowedTaskTypes[t.Type] {
		return arberr.New(arberr.KindValidation, "task_type_not_allowed",
			fmt.Sprintf("task type %q is not in the allowed set", t.Type))
	}
	if !t.Priority.valid() {
		return arberr.New(arberr.KindValidation, "priority_out_of_range",
			fmt.Sprintf("priority %d is out of range", t.Priority))
	}
	if t.MaxAttempts < 1 {
		return arberr.New(arberr.KindValidation, "max_attempts_invalid", "maxAttempts must be >= 1")
	}
	if t.Attempts > t.MaxAttempts {
		return arberr.New(arberr.KindValidation, "attempts_exceed_max", "attempts must be <= maxAttempts")
	}
	if t.Metadata != nil {
		body, err := json.Marshal(t.Metadata)
		if err != nil {
			return arberr.Wrap(arberr.KindValidation, "metadata_unserializable", "metadata could not be serialized", err)
		}
		if len(body) > c.MaxMetadataBytes {
			return arberr.New(arberr.KindValidation, "metadata_too_large",
				fmt.Sprintf("metadata size %d exceeds %d", len(body), c.MaxMetadataBytes))
		}
	}
	return nil
}
