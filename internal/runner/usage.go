package runner

// TokenUsage is a normalized token accounting for one invocation. Keys are
// the canonical field names; absent fields are simply missing.
type TokenUsage map[string]int

// Canonical usage keys.
const (
	UsageInput      = "input_tokens"
	UsageOutput     = "output_tokens"
	UsageCacheRead  = "cache_read_input_tokens"
	UsageCacheWrite = "cache_write_input_tokens"
	UsageReasoning  = "reasoning_tokens"
	UsageTotal      = "total_tokens"
)

// usageAliases maps each canonical key to the vendor spellings it may
// arrive under. The first alias present in the raw payload wins.
var usageAliases = map[string][]string{
	UsageInput:      {"input_tokens", "prompt_tokens", "prompt", "input"},
	UsageOutput:     {"output_tokens", "completion_tokens", "completion", "output"},
	UsageCacheRead:  {"cache_read_input_tokens", "cache_read_tokens", "cached_tokens", "cache_read"},
	UsageCacheWrite: {"cache_creation_input_tokens", "cache_write_input_tokens", "cache_creation", "cache_write"},
	UsageReasoning:  {"reasoning_tokens", "reasoning_output_tokens", "reasoning"},
	UsageTotal:      {"total_tokens", "total_token_usage", "total"},
}

// NormalizeTokenUsage maps a raw vendor usage payload onto canonical keys.
// Values must be numeric; booleans and other types are skipped (JSON
// decoding produces float64 for numbers, so those are accepted and
// truncated). Returns nil when nothing usable is present.
func NormalizeTokenUsage(raw map[string]any) TokenUsage {
	if len(raw) == 0 {
		return nil
	}

	usage := TokenUsage{}
	for canonical, aliases := range usageAliases {
		for _, alias := range aliases {
			value, ok := raw[alias]
			if !ok {
				continue
			}
			n, ok := asInt(value)
			if !ok {
				continue
			}
			usage[canonical] = n
			break
		}
	}

	if len(usage) == 0 {
		return nil
	}
	return usage
}

// Total returns the explicit total when recorded, otherwise the sum of
// input and output tokens when either is nonzero, otherwise zero.
func (u TokenUsage) Total() int {
	if u == nil {
		return 0
	}
	if total, ok := u[UsageTotal]; ok {
		return total
	}
	in, out := u[UsageInput], u[UsageOutput]
	if in != 0 || out != 0 {
		return in + out
	}
	return 0
}

// asInt converts JSON-decoded numeric values to int. Booleans are not
// token counts even though some encoders emit them in usage maps.
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case bool:
		return 0, false
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// collectUsageCandidates walks a decoded JSON payload and gathers every map
// that looks like a usage record: explicit "usage" and "token_usage" fields
// plus any map whose keys normalize to at least one canonical field.
func collectUsageCandidates(payload any, candidates *[]map[string]any) {
	switch v := payload.(type) {
	case map[string]any:
		if usage, ok := v["usage"].(map[string]any); ok {
			*candidates = append(*candidates, usage)
		}
		if usage, ok := v["token_usage"].(map[string]any); ok {
			*candidates = append(*candidates, usage)
		}
		if NormalizeTokenUsage(v) != nil {
			*candidates = append(*candidates, v)
		}
		for _, value := range v {
			collectUsageCandidates(value, candidates)
		}
	case []any:
		for _, item := range v {
			collectUsageCandidates(item, candidates)
		}
	}
}
