package db

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/value"
)

// BindNamed rewrites :name, @name and $name parameter references into the
// dialect's positional placeholders and returns the bound values in
// placeholder order. References inside string literals, quoted identifiers
// and comments are left alone, as are casts (::), system variables (@@) and
// numbered parameters ($1). On MySQL @name is a user variable and is never
// bound; use :name or $name there. A reference with no entry in params fails
// with MissingParameter before anything is executed; unused params are
// ignored.
func BindNamed(d Dialect, query string, params value.Map) (string, []value.Value, error) {
	var (
		out  strings.Builder
		args []value.Value
	)
	out.Grow(len(query))

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := skipQuoted(query, i, c)
			out.WriteString(query[i:end])
			i = end
		case c == '[' && d.Engine == EngineSQLServer:
			end := skipQuoted(query, i, ']')
			out.WriteString(query[i:end])
			i = end
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				end = len(query) - i
			}
			out.WriteString(query[i : i+end])
			i += end
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				out.WriteString(query[i:])
				i = len(query)
			} else {
				out.WriteString(query[i : i+2+end+2])
				i += 2 + end + 2
			}
		case (c == ':' || c == '@') && i+1 < len(query) && query[i+1] == c:
			// :: cast or @@ system variable
			out.WriteString(query[i : i+2])
			i += 2
		case c == '@' && d.Engine == EngineMySQL:
			end := i + 1 + len(identAt(query, i+1))
			out.WriteString(query[i:end])
			i = end
		case c == '$' && strings.HasPrefix(query[i:], "$$"):
			end := skipDollarQuoted(query, i, "$$")
			out.WriteString(query[i:end])
			i = end
		case c == ':' || c == '@' || c == '$':
			name := identAt(query, i+1)
			if name == "" {
				out.WriteByte(c)
				i++
				continue
			}
			next := i + 1 + len(name)
			if c == '$' && next < len(query) && query[next] == '$' {
				// $tag$ opens a PostgreSQL dollar-quoted string
				end := skipDollarQuoted(query, i, query[i:next+1])
				out.WriteString(query[i:end])
				i = end
				continue
			}
			v, ok := params[name]
			if !ok {
				return "", nil, dberr.New(dberr.MissingParameter, "missing value for parameter %q", name)
			}
			args = append(args, v)
			out.WriteString(d.Placeholder(len(args)))
			i = next
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), args, nil
}

// identAt returns the identifier starting at query[i], which must begin with
// a letter or underscore.
func identAt(query string, i int) string {
	j := i
	for j < len(query) {
		r, size := utf8.DecodeRuneInString(query[j:])
		if r == '_' || unicode.IsLetter(r) || (j > i && unicode.IsDigit(r)) {
			j += size
			continue
		}
		break
	}
	return query[i:j]
}

// skipQuoted returns the index just past the literal starting at query[i].
// A doubled closing character is an escape.
func skipQuoted(query string, i int, close byte) int {
	j := i + 1
	for j < len(query) {
		if query[j] == close {
			if j+1 < len(query) && query[j+1] == close {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(query)
}

func skipDollarQuoted(query string, i int, tag string) int {
	body := i + len(tag)
	end := strings.Index(query[body:], tag)
	if end < 0 {
		return len(query)
	}
	return body + end + len(tag)
}
