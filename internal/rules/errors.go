package rules

import "errors"

// ErrRuleNotFound is returned by Lookup for unknown rule numbers.
var ErrRuleNotFound = errors.New("rule not found")
