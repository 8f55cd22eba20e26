package analysis

import (
	"regexp"

	"github.com/sprite-ai/revloop/internal/model"
)

var correctnessRules = []lineRule{
	{
		code:     "C001",
		message:  "Bare except clause",
		patterns: compilePatterns(`^\s*except\s*:`),
		severity: model.SeverityWarning,
	},
	{
		code:    "C002",
		message: "Broad exception handling",
		patterns: compilePatterns(
			`^\s*except\s+\(?\s*(?:Base)?Exception\b`,
			`(?i)catch\s*\(\s*(Exception|Throwable)\b`,
		),
		severity: model.SeverityWarning,
		quote:    true,
	},
	{
		code:     "C003",
		message:  "Comparison to None should use 'is' or 'is not'",
		patterns: compilePatterns(`[=!]=\s*None\b`, `\bNone\s*[=!]=`),
		severity: model.SeverityWarning,
	},
	{
		code:     "C004",
		message:  "Mutable default argument",
		patterns: compilePatterns(`^\s*(?:async\s+)?def\s+\w+\s*\(.*=\s*(?:\[\]|\{\}|set\(\)|list\(\)|dict\(\))`),
		severity: model.SeverityError,
	},
	{
		code:     "C005",
		message:  "Assertion on a tuple is always true",
		patterns: compilePatterns(`^\s*assert\s*\(.+,.+\)\s*(?:#.*)?$`),
		severity: model.SeverityError,
	},
	{
		code:     "C006",
		message:  "Comparison to True/False should use the value directly",
		patterns: compilePatterns(`[=!]=\s*(?:True|False)\b`),
		severity: model.SeverityInfo,
	},
	{
		code:    "C007",
		message: "Commented-out code",
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^\s*#\s*(?:def |class |if |for |while |return |import |from \w+ import )`),
			regexp.MustCompile(`^\s*#\s*\w+(?:\.\w+)*\s*(?:\(.*\)|=[^=].*)\s*$`),
		},
		severity: model.SeverityInfo,
		comments: true,
		quote:    true,
	},
	{
		code:     "C008",
		message:  "Exception swallowed with pass",
		patterns: compilePatterns(`^\s*except\b.*:\s*pass\s*$`),
		severity: model.SeverityWarning,
	},
}

func newCorrectnessAnalyzer() *ruleAnalyzer {
	return &ruleAnalyzer{
		category: model.CategoryCorrectness,
		rules:    correctnessRules,
	}
}
