package preflight

import (
	"context"
	"strings"

	"rollcall/internal/config"
)

// CheckClassifierFromConfig evaluates classifier status from config and
// connectivity. Disabled classification passes: the pipeline runs fine
// without it.
func CheckClassifierFromConfig(cfg *config.Config) Result {
	const name = "Classifier LLM"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Classifier.Enabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	if strings.TrimSpace(cfg.Classifier.APIKey) == "" {
		return Result{Name: name, Detail: "Missing API key"}
	}
	return CheckLLM(context.Background(), name, cfg.ClassifierLLM())
}

// CheckNotificationsFromConfig reports whether push notifications are
// configured. No probe request is made; a test push is an explicit action.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	return Result{Name: name, Passed: true, Detail: "ntfy topic configured"}
}
