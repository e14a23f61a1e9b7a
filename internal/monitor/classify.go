package monitor

import (
	"strings"

	"github.com/aviatorstc/autopilot/pkg/errors"
)

// Message pattern tables for classifying plain errors. Typed AppErrors
// carry their own category and severity and skip these entirely.
var categoryPatterns = []struct {
	category errors.Category
	patterns []string
}{
	{errors.CategoryDataCorruption, []string{"corrupt", "data loss", "deleted unexpectedly", "checksum"}},
	{errors.CategoryAuthentication, []string{"unauthorized", "authentication", "invalid token", "login"}},
	{errors.CategoryAuthorization, []string{"forbidden", "permission denied", "not allowed", "access denied"}},
	{errors.CategoryNetwork, []string{"network", "connection", "timeout", "econnreset", "econnrefused", "etimedout", "socket hang up", "dns"}},
	{errors.CategoryValidation, []string{"validation", "invalid", "malformed", "schema"}},
	{errors.CategorySystemResource, []string{"out of memory", "disk full", "no space", "too many open files", "resource exhausted"}},
	{errors.CategoryConfiguration, []string{"config", "missing environment", "misconfigured"}},
	{errors.CategoryExternalService, []string{"upstream", "external service", "api error", "bad gateway", "service unavailable", "rate limit"}},
	{errors.CategoryUserInput, []string{"user input", "unsupported format", "bad request"}},
}

var criticalPatterns = []string{"data loss", "corrupt", "deleted unexpectedly"}
var highPatterns = []string{"database", "connection", "out of memory", "disk full", "unauthorized", "forbidden"}
var lowPatterns = []string{"validation", "invalid", "bad request", "user input"}

// Classify derives severity and category for an error. AppErrors are taken
// at face value; anything else is classified from its message.
func Classify(err error) (errors.Severity, errors.Category) {
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr.Severity, appErr.Category
	}

	message := strings.ToLower(err.Error())

	category := errors.CategoryUnknown
	for _, entry := range categoryPatterns {
		if containsAny(message, entry.patterns) {
			category = entry.category
			break
		}
	}

	severity := errors.SeverityMedium
	switch {
	case containsAny(message, criticalPatterns):
		severity = errors.SeverityCritical
	case containsAny(message, highPatterns):
		severity = errors.SeverityHigh
	case containsAny(message, lowPatterns):
		severity = errors.SeverityLow
	}

	return severity, category
}

// AssessImpact grades the business consequence of an error.
func AssessImpact(severity errors.Severity, message string) Impact {
	lower := strings.ToLower(message)

	impact := Impact{BusinessImpact: ImpactLow}

	switch severity {
	case errors.SeverityCritical:
		impact.BusinessImpact = ImpactCritical
		impact.ServiceDisruption = true
	case errors.SeverityHigh:
		impact.BusinessImpact = ImpactHigh
	case errors.SeverityMedium:
		impact.BusinessImpact = ImpactMedium
	}

	if containsAny(lower, []string{"database", "connection"}) {
		impact.BusinessImpact = ImpactCritical
		impact.ServiceDisruption = true
	}

	if containsAny(lower, []string{"loss", "corrupt", "deletion", "deleted"}) {
		impact.BusinessImpact = ImpactCritical
		impact.DataLoss = true
	}

	return impact
}

func containsAny(message string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(message, p) {
			return true
		}
	}
	return false
}
