package llmadapter

// filterEnv builds the "KEY=VALUE" env slice a subprocess receives:
// exactly the keys in allow (if present in source) plus every key in
// extra (the butler-declared required/optional vars and module credential
// vars, per spawner step 4) that allow has not already supplied; for such a
// duplicate the source value wins. This is how the contract keeps e.g. the
// Anthropic key out of a Gemini subprocess's environment.
func filterEnv(source map[string]string, allow []string, extra map[string]string) []string {
	seen := make(map[string]struct{}, len(allow)+len(extra))
	out := make([]string, 0, len(allow)+len(extra))

	add := func(k, v string) {
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		out = append(out, k+"="+v)
	}

	for _, k := range allow {
		if v, ok := source[k]; ok {
			add(k, v)
		}
	}
	for k, v := range extra {
		add(k, v)
	}
	return out
}
