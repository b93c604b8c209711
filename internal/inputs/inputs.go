// Package inputs builds the final payload sent to the compute provider by
// merging user-supplied input with a model's configuration overrides.
package inputs

import "runforge/internal/model"

// promptKey is the field that prefix/suffix composition applies to.
const promptKey = "prompt"

// Normalize merges user input with the model's overrides and returns the
// exact payload to submit. It is pure: the same arguments always produce
// the same result and neither argument is mutated.
//
// Precedence: defaults < user input < locked inputs. Prompt prefix/suffix
// are applied to an existing "prompt" value after merging; hidden fields
// are removed last, so a hidden field can still participate in prompt
// composition before it is stripped.
func Normalize(user map[string]any, ov model.ConfigOverrides) map[string]any {
	merged := make(map[string]any, len(ov.DefaultInputs)+len(user)+len(ov.LockedInputs))

	for k, v := range ov.DefaultInputs {
		merged[k] = v
	}
	for k, v := range user {
		merged[k] = v
	}
	for k, v := range ov.LockedInputs {
		merged[k] = v
	}

	if ov.PromptPrefix != "" || ov.PromptSuffix != "" {
		if prompt, ok := merged[promptKey].(string); ok {
			merged[promptKey] = ov.PromptPrefix + prompt + ov.PromptSuffix
		}
	}

	for _, field := range ov.HiddenFields {
		delete(merged, field)
	}

	return merged
}
