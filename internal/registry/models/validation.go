package models

import (
	"strings"
	"unicode/utf8"

	dErrors "certledger/pkg/domain-errors"
)

const (
	MaxScore = 100
	MaxLevel = 10

	MaxProfessionLength   = 128
	MaxEvidenceLength     = 2048
	MaxIssuerNameLength   = 128
	MaxReasonLength       = 512
	MaxOrganizationLength = 128

	// extensionDaysCeiling keeps an "unbounded" extension inside the range a
	// timestamp column can hold.
	extensionDaysCeiling = 1_000_000
)

// ValidateSubmission checks a certification request before anything is encrypted
// or stored.
func ValidateSubmission(profession string, score, level int, evidence string) error {
	if err := ValidateProfession(profession); err != nil {
		return err
	}
	if score < 0 || score > MaxScore {
		return dErrors.New(dErrors.CodeValidation, "score must be between 0 and 100")
	}
	if level < 0 || level > MaxLevel {
		return dErrors.New(dErrors.CodeValidation, "level must be between 0 and 10")
	}
	if strings.TrimSpace(evidence) == "" {
		return dErrors.New(dErrors.CodeValidation, "evidence is required")
	}
	if utf8.RuneCountInString(evidence) > MaxEvidenceLength {
		return dErrors.New(dErrors.CodeValidation, "evidence is too long")
	}
	return nil
}

// ValidateRequirement applies the submission bounds to an owner-set minimum.
func ValidateRequirement(profession string, minScore, minLevel int) error {
	if err := ValidateProfession(profession); err != nil {
		return err
	}
	if minScore < 0 || minScore > MaxScore {
		return dErrors.New(dErrors.CodeValidation, "min_score must be between 0 and 100")
	}
	if minLevel < 0 || minLevel > MaxLevel {
		return dErrors.New(dErrors.CodeValidation, "min_level must be between 0 and 10")
	}
	return nil
}

func ValidateProfession(profession string) error {
	if strings.TrimSpace(profession) == "" {
		return dErrors.New(dErrors.CodeValidation, "profession is required")
	}
	if utf8.RuneCountInString(profession) > MaxProfessionLength {
		return dErrors.New(dErrors.CodeValidation, "profession is too long")
	}
	return nil
}

func ValidateIssuerName(name string) error {
	if strings.TrimSpace(name) == "" {
		return dErrors.New(dErrors.CodeValidation, "issuer_name is required")
	}
	if utf8.RuneCountInString(name) > MaxIssuerNameLength {
		return dErrors.New(dErrors.CodeValidation, "issuer_name is too long")
	}
	return nil
}

// ValidateReason allows an empty reason; only length is bounded.
func ValidateReason(reason string) error {
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason is too long")
	}
	return nil
}

func ValidateOrganization(org string) error {
	if utf8.RuneCountInString(org) > MaxOrganizationLength {
		return dErrors.New(dErrors.CodeValidation, "organization is too long")
	}
	return nil
}

// ValidateExtension checks the day count of a validity extension. maxDays of zero
// leaves it unbounded.
func ValidateExtension(additionalDays, maxDays int) error {
	if additionalDays < 1 {
		return dErrors.New(dErrors.CodeValidation, "additional_days must be at least 1")
	}
	if additionalDays > extensionDaysCeiling || (maxDays > 0 && additionalDays > maxDays) {
		return dErrors.New(dErrors.CodeValidation, "additional_days exceeds the configured maximum")
	}
	return nil
}
