package profiles

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
)

// variablePattern matches template variable references like {{.Content}}.
var variablePattern = regexp.MustCompile(`\{\{\s*\.([a-zA-Z_][a-zA-Z0-9_.]*)\s*\}\}`)

// ExtractVariables returns the sorted, unique template variables referenced
// by text. Only plain {{.Name}} references are reported.
func ExtractVariables(text string) []string {
	seen := make(map[string]bool)
	var vars []string
	for _, m := range variablePattern.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	sort.Strings(vars)
	return vars
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

var templateFuncs = template.FuncMap{
	"join": func(v any, sep string) string {
		switch items := v.(type) {
		case []string:
			return strings.Join(items, sep)
		case []int:
			parts := make([]string, len(items))
			for i, n := range items {
				parts[i] = fmt.Sprint(n)
			}
			return strings.Join(parts, sep)
		}
		return fmt.Sprint(v)
	},
}

func parseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(templateFuncs).Option("missingkey=error").Parse(text)
}
