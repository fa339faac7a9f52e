// Package graphql implements the GraphQL surface with a deliberately
// lightweight structural parser: depth, complexity, and field extraction
// are regex/brace counting, not a query engine.
package graphql

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/erauner12/bffgateway/internal/gatewayerr"
)

// queryInfo is what the structural parser extracts from a document.
type queryInfo struct {
	Mutation   bool
	Fields     []string
	Depth      int
	Complexity int
}

var (
	complexityPattern    = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*\s*[({:]`)
	introspectionPattern = regexp.MustCompile(`__schema\b|__type\b`)
	// A fragment spreading itself is the cheap recursion check this parser
	// affords; a full cycle analysis would need a real AST.
	recursiveFragmentPattern = regexp.MustCompile(`fragment\s+(\w+)\b[\s\S]*\.\.\.\s*(\w+)`)
)

// parse runs the structural pass over a query document.
func parse(query string) queryInfo {
	info := queryInfo{}

	trimmed := strings.TrimSpace(query)
	info.Mutation = strings.HasPrefix(trimmed, "mutation") ||
		strings.Contains(trimmed, "\nmutation")

	info.Fields = topLevelFields(trimmed)
	info.Depth = nestingDepth(trimmed)
	info.Complexity = len(complexityPattern.FindAllString(trimmed, -1))
	return info
}

// topLevelFields extracts the selection-set roots: names at brace depth 1.
func topLevelFields(query string) []string {
	var fields []string
	depth := 0
	i := 0
	for i < len(query) {
		switch query[i] {
		case '{':
			depth++
			i++
		case '}':
			depth--
			i++
		default:
			if depth == 1 && (isNameStart(query[i])) {
				j := i
				for j < len(query) && isNameChar(query[j]) {
					j++
				}
				name := query[i:j]
				if name != "query" && name != "mutation" && name != "fragment" && name != "on" {
					fields = append(fields, name)
				}
				// Skip this field's arguments and selection set so nested
				// names don't register as top-level.
				i = skipField(query, j)
				continue
			}
			i++
		}
	}
	return fields
}

// skipField advances past a field's arguments and immediate selection set.
func skipField(query string, i int) int {
	// Skip whitespace and an argument list.
	for i < len(query) && (query[i] == ' ' || query[i] == '\t' || query[i] == '\n') {
		i++
	}
	if i < len(query) && query[i] == '(' {
		parens := 0
		for i < len(query) {
			if query[i] == '(' {
				parens++
			} else if query[i] == ')' {
				parens--
				if parens == 0 {
					i++
					break
				}
			}
			i++
		}
	}
	for i < len(query) && (query[i] == ' ' || query[i] == '\t' || query[i] == '\n') {
		i++
	}
	// Skip the selection set braces as a block.
	if i < len(query) && query[i] == '{' {
		braces := 0
		for i < len(query) {
			if query[i] == '{' {
				braces++
			} else if query[i] == '}' {
				braces--
				if braces == 0 {
					i++
					break
				}
			}
			i++
		}
	}
	return i
}

func isNameStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isNameChar(b byte) bool {
	return isNameStart(b) || (b >= '0' && b <= '9')
}

// nestingDepth counts the deepest brace nesting in the document.
func nestingDepth(query string) int {
	depth, max := 0, 0
	for i := 0; i < len(query); i++ {
		switch query[i] {
		case '{':
			depth++
			if depth > max {
				max = depth
			}
		case '}':
			depth--
		}
	}
	return max
}

// validate applies the manifest limits and the dangerous-pattern checks.
func validate(info queryInfo, query string, maxDepth, maxComplexity int, allowIntrospection bool) *gatewayerr.Error {
	if !allowIntrospection && introspectionPattern.MatchString(query) {
		return gatewayerr.New(gatewayerr.CodeForbidden, "introspection is disabled")
	}
	if m := recursiveFragmentPattern.FindStringSubmatch(query); m != nil && m[1] == m[2] {
		return gatewayerr.New(gatewayerr.CodeValidation, "recursive fragment "+m[1])
	}
	if maxDepth > 0 && info.Depth > maxDepth {
		return gatewayerr.New(gatewayerr.CodeQueryTooDeep,
			fmt.Sprintf("Query depth %d exceeds maximum %d", info.Depth, maxDepth))
	}
	if maxComplexity > 0 && info.Complexity > maxComplexity {
		return gatewayerr.New(gatewayerr.CodeQueryTooComplex,
			fmt.Sprintf("Query complexity %d exceeds maximum %d", info.Complexity, maxComplexity))
	}
	return nil
}
