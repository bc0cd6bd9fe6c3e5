package artifact

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"releasepipe/internal/apperrors"
)

// ValidateName checks that an artifact name is a single relative path
// segment, since names become object keys and file names.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.Validation("artifact.name", "artifact name is required")
	}
	if filepath.IsAbs(name) {
		return apperrors.Validation("artifact.name", fmt.Sprintf("artifact name %q must be relative", name))
	}
	if strings.ContainsAny(name, `/\`) {
		return apperrors.Validation("artifact.name", fmt.Sprintf("artifact name %q must not contain path separators", name))
	}
	if name == "." || name == ".." {
		return apperrors.Validation("artifact.name", "path traversal not allowed")
	}
	return nil
}

func validatePut(name, producer string, retention time.Duration) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if producer == "" {
		return apperrors.Validation("artifact.producer", "artifact producer is required")
	}
	if retention <= 0 {
		return apperrors.Validation("artifact.retention", fmt.Sprintf("artifact %s: retention must be positive", name))
	}
	return nil
}
