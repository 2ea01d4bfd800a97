package telemetry

import (
	"bytes"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// safeVars are environment variables that carry no secrets.
var safeVars = map[string]bool{
	"HOME": true, "USER": true, "PWD": true, "OLDPWD": true,
	"SHELL": true, "PATH": true, "LANG": true, "TERM": true,
	"EDITOR": true, "PAGER": true, "HOSTNAME": true, "LOGNAME": true,
	"TMPDIR": true, "XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true,
	"XDG_RUNTIME_DIR": true, "SHLVL": true, "LC_ALL": true, "LC_CTYPE": true,
}

// specialParams are shell special parameters that are never redacted.
var specialParams = map[string]bool{
	"?": true, "!": true, "#": true, "@": true, "*": true,
	"-": true, "$": true, "_": true,
	"0": true, "1": true, "2": true, "3": true, "4": true,
	"5": true, "6": true, "7": true, "8": true, "9": true,
}

var shellLanguages = map[string]syntax.LangVariant{
	"shellscript": syntax.LangBash,
	"bash":        syntax.LangBash,
	"sh":          syntax.LangPOSIX,
	"zsh":         syntax.LangBash,
	"mksh":        syntax.LangMirBSDKorn,
}

var (
	// NAME = "value" where NAME looks like it holds a credential.
	reSecretAssign = regexp.MustCompile(`(?i)\b([A-Za-z0-9_.-]*?(?:key|token|secret|passw(?:or)?d|credential)[A-Za-z0-9_]*)(["']?\s*[:=]\s*)("[^"\n]*"|'[^'\n]*'|[^\s,;)}]+)`)
	// Well-known token shapes.
	reTokens = regexp.MustCompile(`\b(?:sk-[A-Za-z0-9_-]{16,}|gh[pousr]_[A-Za-z0-9]{20,}|AKIA[0-9A-Z]{16}|xox[abpr]-[A-Za-z0-9-]{10,})\b`)

	reBraceVar  = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reSimpleVar = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
	reAssign    = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
)

// Redact scrubs likely credentials from code written in language. Shell
// scripts are parsed so variable expansions and assignments can be masked
// precisely; everything else is matched by pattern.
func Redact(language, text string) string {
	if text == "" {
		return text
	}
	if variant, ok := shellLanguages[strings.ToLower(language)]; ok {
		return redactShell(variant, text)
	}
	return redactGeneric(text)
}

func redactGeneric(text string) string {
	text = reSecretAssign.ReplaceAllString(text, `$1$2"***"`)
	return reTokens.ReplaceAllString(text, "***")
}

func redactShell(variant syntax.LangVariant, text string) string {
	parser := syntax.NewParser(syntax.Variant(variant), syntax.KeepComments(true))
	prog, err := parser.Parse(strings.NewReader(text), "")
	if err != nil {
		// Completions are usually fragments that do not parse.
		return reTokens.ReplaceAllString(regexRedactShell(text), "***")
	}

	syntax.Walk(prog, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.ParamExp:
			if n.Param != nil && !safeVars[n.Param.Value] && !specialParams[n.Param.Value] {
				n.Param.Value = "REDACTED"
			}
		case *syntax.Assign:
			if n.Name != nil && !safeVars[n.Name.Value] && n.Value != nil {
				n.Value.Parts = []syntax.WordPart{&syntax.Lit{Value: "***"}}
			}
		}
		return true
	})

	var buf bytes.Buffer
	printer := syntax.NewPrinter(syntax.Indent(0))
	if err := printer.Print(&buf, prog); err != nil {
		return reTokens.ReplaceAllString(regexRedactShell(text), "***")
	}
	out := buf.String()
	if !strings.HasSuffix(text, "\n") {
		out = strings.TrimRight(out, "\n")
	}
	return reTokens.ReplaceAllString(out, "***")
}

// regexRedactShell handles shell text that fails to parse.
func regexRedactShell(text string) string {
	text = reBraceVar.ReplaceAllStringFunc(text, func(m string) string {
		name := reBraceVar.FindStringSubmatch(m)[1]
		if safeVars[name] || specialParams[name] {
			return m
		}
		return "${REDACTED}"
	})

	text = reSimpleVar.ReplaceAllStringFunc(text, func(m string) string {
		name := reSimpleVar.FindStringSubmatch(m)[1]
		if name == "REDACTED" || safeVars[name] || specialParams[name] {
			return m
		}
		return "$REDACTED"
	})

	return reAssign.ReplaceAllStringFunc(text, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if safeVars[name] {
			return m
		}
		return name + "=***"
	})
}

// redactRecord returns a copy of rec fit to leave the process: the document
// text is dropped and suggestion text is scrubbed.
func redactRecord(rec Record) Record {
	lang := rec.Params.Doc.LanguageID
	rec.Params.Doc.Source = ""
	rec.Suggestion.Text = Redact(lang, rec.Suggestion.Text)
	rec.Suggestion.DisplayText = Redact(lang, rec.Suggestion.DisplayText)
	return rec
}
