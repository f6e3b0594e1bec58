package main

import "encoding/json"

// parseParams turns command-line arguments into positional params. An
// argument that is valid JSON is sent as-is, anything else as a string.
func parseParams(args []string) []any {
	params := make([]any, 0, len(args))
	for _, arg := range args {
		if json.Valid([]byte(arg)) {
			params = append(params, json.RawMessage(arg))
			continue
		}
		params = append(params, arg)
	}
	return params
}

// withSecret prepends aria2's "token:<secret>" authorization param.
func withSecret(secret string, params []any) []any {
	if secret == "" {
		return params
	}
	return append([]any{"token:" + secret}, params...)
}
