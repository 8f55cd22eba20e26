package analysis

import (
	"regexp"

	"github.com/sprite-ai/revloop/internal/model"
)

var performanceRules = []lineRule{
	{
		code:     "P001",
		message:  "List append inside loop; consider a comprehension",
		patterns: compilePatterns(`\.append\(`),
		severity: model.SeverityInfo,
		inLoop:   true,
	},
	{
		code:     "P002",
		message:  "String concatenation with +=",
		patterns: compilePatterns(`\+=\s*(?:[rbf]?["'])`),
		severity: model.SeverityInfo,
	},
	{
		code:     "P003",
		message:  "Nested loop",
		patterns: []*regexp.Regexp{loopHeader},
		severity: model.SeverityWarning,
		inLoop:   true,
	},
	{
		code:     "P004",
		message:  "range(len(...)) iteration; iterate directly or use enumerate",
		patterns: compilePatterns(`\brange\(\s*len\(`),
		severity: model.SeverityInfo,
	},
	{
		code:     "P005",
		message:  "String built by repeated concatenation inside loop",
		patterns: compilePatterns(`^\s*\w+\s*=\s*\w+\s*\+\s*(?:[rbf]?["']|str\()`),
		severity: model.SeverityWarning,
		inLoop:   true,
	},
	{
		code:     "P006",
		message:  "Membership test against .keys()",
		patterns: compilePatterns(`\bin\s+\w+(?:\.\w+)*\.keys\(\)`),
		severity: model.SeverityInfo,
	},
	{
		code:     "P007",
		message:  "Regular expression compiled inside loop",
		patterns: compilePatterns(`\bre\.compile\(`),
		severity: model.SeverityInfo,
		inLoop:   true,
	},
}

func newPerformanceAnalyzer() *ruleAnalyzer {
	return &ruleAnalyzer{
		category: model.CategoryPerformance,
		rules:    performanceRules,
	}
}
