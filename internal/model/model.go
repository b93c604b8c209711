package model

import "time"

// ConfigOverrides are per-model rules applied to user input before a job
// is submitted to the compute provider.
type ConfigOverrides struct {
	// DefaultInputs are applied only for keys absent from user input.
	DefaultInputs map[string]any `json:"default_inputs,omitempty"`
	// LockedInputs always win, overriding both defaults and user input.
	LockedInputs map[string]any `json:"locked_inputs,omitempty"`
	// HiddenFields are stripped from the final payload regardless of source.
	// Removal happens last, so a hidden field can still feed prompt composition.
	HiddenFields []string `json:"hidden_fields,omitempty"`
	// PromptPrefix and PromptSuffix are concatenated around the "prompt"
	// field when one is present. No prompt field is ever synthesized.
	PromptPrefix string `json:"prompt_prefix,omitempty"`
	PromptSuffix string `json:"prompt_suffix,omitempty"`
}

// ModelDefinition is a developer-registered model runnable on a provider
// endpoint. Read-only to the job engine.
type ModelDefinition struct {
	ID             string          `json:"id"`
	Slug           string          `json:"slug"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	OwnerID        string          `json:"owner_id"`
	EndpointID     string          `json:"endpoint_id"`
	EndpointActive bool            `json:"endpoint_active"`
	Published      bool            `json:"published"`
	Overrides      ConfigOverrides `json:"overrides"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
