package analysis

import (
	"regexp"

	"github.com/sprite-ai/revloop/internal/model"
)

var securityRules = []lineRule{
	{
		code:     "B001",
		message:  "eval() usage",
		patterns: compilePatterns(`\beval\(`),
		severity: model.SeverityError,
		quote:    true,
	},
	{
		code:     "B002",
		message:  "exec() usage",
		patterns: compilePatterns(`\bexec\(`),
		severity: model.SeverityError,
		quote:    true,
	},
	{
		code:     "B003",
		message:  "Unsafe deserialization with pickle",
		patterns: compilePatterns(`\b(?:c?pickle|dill)\.loads?\(`),
		severity: model.SeverityError,
	},
	{
		code:    "B004",
		message: "Hardcoded credential",
		patterns: compilePatterns(
			`(?i)\b(?:password|passwd|pwd)\s*=`,
			`(?i)\b(?:secret|api_?key|access_?token|auth_?token)\s*=\s*["'][^"']+["']`,
		),
		exclude:  regexp.MustCompile(`(?i)=\s*(?:None|input\(|getpass|os\.environ|os\.getenv)`),
		severity: model.SeverityError,
	},
	{
		code:     "B005",
		message:  "subprocess call with shell=True",
		patterns: compilePatterns(`\bsubprocess\.\w+\(.*shell\s*=\s*True`),
		severity: model.SeverityError,
	},
	{
		code:     "B006",
		message:  "Shell command execution",
		patterns: compilePatterns(`\bos\.(?:system|popen)\(`),
		severity: model.SeverityWarning,
		quote:    true,
	},
	{
		code:     "B007",
		message:  "yaml.load without an explicit safe Loader",
		patterns: compilePatterns(`\byaml\.load\(`),
		exclude:  regexp.MustCompile(`Loader\s*=\s*(?:yaml\.)?(?:Safe|CSafe)Loader`),
		severity: model.SeverityWarning,
	},
	{
		code:    "B008",
		message: "TLS certificate verification disabled",
		patterns: compilePatterns(
			`\bverify\s*=\s*False\b`,
			`ssl\._create_unverified_context`,
			`\bCERT_NONE\b`,
		),
		severity: model.SeverityError,
	},
	{
		code:     "B009",
		message:  "SQL built with string formatting",
		patterns: compilePatterns(`(?i)\.execute\(\s*(?:f["']|["'].*["']\s*(?:%|\+|\.format\())`),
		severity: model.SeverityError,
	},
	{
		code:     "B010",
		message:  "Weak hash algorithm",
		patterns: compilePatterns(`\bhashlib\.(?:md5|sha1)\(`),
		severity: model.SeverityWarning,
	},
}

func newSecurityAnalyzer() *ruleAnalyzer {
	return &ruleAnalyzer{
		category: model.CategorySecurity,
		rules:    securityRules,
	}
}
