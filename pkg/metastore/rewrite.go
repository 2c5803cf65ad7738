package metastore

import (
	"strings"
)

// Rewrite injects tenant's predicate on column into query at the
// correct position: before the first trailing GROUP BY / ORDER BY /
// LIMIT clause, combined with any existing WHERE via AND. args is the
// existing bind-parameter list for query; the returned args has the
// tenant predicate's parameters spliced in at the matching position so
// placeholder order stays aligned with the rewritten SQL.
//
// Rewrite is a quote- and paren-aware scanner, generalized from the
// teacher's flat "userId = ? AND agentId = ?" clause builder
// (pkg/storage/sqlite/utils.go's buildWhereClause) into a full
// statement splice: it never inserts inside a string literal or a
// parenthesized subquery, so it is safe against content that happens
// to contain the keywords it looks for.
func Rewrite(query, column string, tenant Tenant, args []interface{}) (string, []interface{}) {
	pred, predArgs := tenant.Predicate(column)
	if pred == "" {
		return query, args
	}

	whereIdx, trailingIdx := scanStatement(query)

	if whereIdx >= 0 {
		// An existing WHERE is present: splice "(pred) AND (" right
		// after the WHERE keyword, closing the added parenthesis at
		// trailingIdx (or end of string if there is no trailing
		// clause). This guarantees correct precedence against any
		// OR in the original predicate without having to parse it.
		insertAt := whereIdx
		head := query[:insertAt]
		tail := query[insertAt:]

		if trailingIdx >= 0 {
			// trailingIdx is an absolute offset into the original
			// query; recompute it relative to tail.
			relTrailing := trailingIdx - insertAt
			rewritten := head + "(" + pred + ") AND (" + tail[:relTrailing] + ") " + tail[relTrailing:]
			return rewritten, spliceArgs(predArgs, args, 0)
		}
		rewritten := head + "(" + pred + ") AND (" + tail + ")"
		return rewritten, spliceArgs(predArgs, args, 0)
	}

	// No WHERE at all: insert one before the trailing clause, or at
	// the end of the query if there is none.
	if trailingIdx >= 0 {
		rewritten := query[:trailingIdx] + "WHERE " + pred + " " + query[trailingIdx:]
		return rewritten, spliceArgs(predArgs, args, 0)
	}
	return strings.TrimRight(query, " \t\n;") + " WHERE " + pred, spliceArgs(predArgs, args, 0)
}

// spliceArgs inserts newArgs into args at position i, preserving
// order. The rewriter always places the tenant predicate first in the
// generated SQL, so its bind parameters always land at position 0.
func spliceArgs(newArgs, args []interface{}, i int) []interface{} {
	if len(newArgs) == 0 {
		return args
	}
	out := make([]interface{}, 0, len(args)+len(newArgs))
	out = append(out, args[:i]...)
	out = append(out, newArgs...)
	out = append(out, args[i:]...)
	return out
}

// scanStatement walks query once, tracking single/double-quote string
// state and parenthesis depth, and reports:
//   - whereIdx: the byte offset just after a top-level "WHERE " keyword,
//     or -1 if none exists at depth 0.
//   - trailingIdx: the byte offset of the first top-level GROUP BY,
//     ORDER BY, or LIMIT keyword, or -1 if none exists at depth 0.
//
// Keywords inside string literals or inside parenthesized subqueries
// (depth > 0) are ignored, since those do not belong to the outermost
// statement the rewriter is allowed to touch.
func scanStatement(query string) (whereIdx, trailingIdx int) {
	whereIdx, trailingIdx = -1, -1
	depth := 0
	var quote byte

	upper := strings.ToUpper(query)
	n := len(query)

	for i := 0; i < n; i++ {
		c := query[i]

		if quote != 0 {
			if c == quote {
				// A doubled quote is an escaped literal quote, not
				// the end of the string.
				if i+1 < n && query[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
			continue
		case '(':
			depth++
			continue
		case ')':
			if depth > 0 {
				depth--
			}
			continue
		}

		if depth != 0 {
			continue
		}

		if whereIdx < 0 && matchesKeyword(upper, i, "WHERE") {
			whereIdx = i + len("WHERE ")
			if whereIdx > n {
				whereIdx = n
			}
			continue
		}
		if trailingIdx < 0 {
			for _, kw := range []string{"GROUP BY", "ORDER BY", "LIMIT"} {
				if matchesKeyword(upper, i, kw) {
					trailingIdx = i
					break
				}
			}
		}
	}
	return whereIdx, trailingIdx
}

// matchesKeyword reports whether upper has keyword at position i, with
// word boundaries on both sides (so "WHEREAS" does not match "WHERE").
func matchesKeyword(upper string, i int, keyword string) bool {
	if i+len(keyword) > len(upper) {
		return false
	}
	if upper[i:i+len(keyword)] != keyword {
		return false
	}
	if i > 0 && isIdentByte(upper[i-1]) {
		return false
	}
	end := i + len(keyword)
	if end < len(upper) && isIdentByte(upper[end]) {
		return false
	}
	return true
}

func isIdentByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
