package schema

import (
	"fmt"
	"strings"
)

// ParseCreateTable extracts column metadata from a CREATE TABLE statement
// using balanced-paren scanning. Constraint fragments it does not
// understand are skipped; the parser is deliberately tolerant so that
// databases written by other tools still load.
func ParseCreateTable(name, sql string) (*Table, error) {
	t := &Table{Name: name, RowidAlias: -1}
	t.SQL = sql

	open := strings.IndexByte(sql, '(')
	if open < 0 {
		// CREATE TABLE ... AS SELECT or similar; no column list to parse.
		return t, nil
	}
	body, rest, err := balancedBody(sql[open:])
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	t.WithoutRowid = containsWordPair(rest, "WITHOUT", "ROWID")

	var pkNames []string
	for _, item := range splitTopLevel(body) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		tokens := tokenize(item)
		if len(tokens) == 0 {
			continue
		}
		switch strings.ToUpper(tokens[0]) {
		case "PRIMARY":
			pkNames = append(pkNames, parenNames(item)...)
			continue
		case "UNIQUE", "CHECK", "FOREIGN", "CONSTRAINT":
			// Table constraints beyond PRIMARY KEY are ignored.
			if strings.ToUpper(tokens[0]) == "CONSTRAINT" {
				// CONSTRAINT name PRIMARY KEY (...) still names pk columns.
				if idx := wordPairIndex(tokens, "PRIMARY", "KEY"); idx >= 0 {
					pkNames = append(pkNames, parenNames(item)...)
				}
			}
			continue
		}

		col := parseColumnDef(tokens)
		t.Columns = append(t.Columns, col)
	}

	for _, pk := range pkNames {
		if i := t.ColumnIndex(pk); i >= 0 {
			t.Columns[i].PrimaryKey = true
		}
	}

	// A single INTEGER PRIMARY KEY column aliases the rowid.
	if !t.WithoutRowid {
		pkCount := 0
		pkIdx := -1
		for i, c := range t.Columns {
			if c.PrimaryKey {
				pkCount++
				pkIdx = i
			}
		}
		if pkCount == 1 && strings.EqualFold(t.Columns[pkIdx].Type, "INTEGER") {
			t.RowidAlias = pkIdx
		}
	}
	return t, nil
}

// parseColumnDef reads one column definition: name, declared type, and the
// constraint keywords the engine acts on.
func parseColumnDef(tokens []string) Column {
	col := Column{Name: unquote(tokens[0])}

	var typeParts []string
	i := 1
	for ; i < len(tokens); i++ {
		up := strings.ToUpper(tokens[i])
		if isConstraintKeyword(up) {
			break
		}
		typeParts = append(typeParts, tokens[i])
	}
	col.Type = strings.Join(typeParts, " ")

	for ; i < len(tokens); i++ {
		switch strings.ToUpper(tokens[i]) {
		case "NOT":
			if i+1 < len(tokens) && strings.EqualFold(tokens[i+1], "NULL") {
				col.NotNull = true
				i++
			}
		case "PRIMARY":
			if i+1 < len(tokens) && strings.EqualFold(tokens[i+1], "KEY") {
				col.PrimaryKey = true
				i++
			}
		case "COLLATE":
			if i+1 < len(tokens) {
				col.Collation = unquote(tokens[i+1])
				i++
			}
		}
	}
	return col
}

func isConstraintKeyword(up string) bool {
	switch up {
	case "NOT", "NULL", "PRIMARY", "UNIQUE", "CHECK", "DEFAULT",
		"COLLATE", "REFERENCES", "GENERATED", "AS", "CONSTRAINT":
		return true
	}
	return false
}

// ParseCreateIndex extracts the table and column list from a CREATE INDEX
// statement.
func ParseCreateIndex(name, sql string) (*Index, error) {
	ix := &Index{Name: name, SQL: sql}
	tokens := tokenize(sql)
	ix.Unique = wordPairIndex(tokens, "CREATE", "UNIQUE") == 0

	onIdx := -1
	for i, tok := range tokens {
		if strings.EqualFold(tok, "ON") {
			onIdx = i
			break
		}
	}
	if onIdx < 0 || onIdx+1 >= len(tokens) {
		return nil, fmt.Errorf("index %s: missing ON clause", name)
	}
	ix.Table = unquote(tokens[onIdx+1])

	open := strings.IndexByte(sql, '(')
	if open < 0 {
		return nil, fmt.Errorf("index %s: missing column list", name)
	}
	body, _, err := balancedBody(sql[open:])
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", name, err)
	}
	for _, item := range splitTopLevel(body) {
		cols := tokenize(strings.TrimSpace(item))
		if len(cols) == 0 {
			continue
		}
		ic := IndexColumn{Name: unquote(cols[0])}
		for j := 1; j < len(cols); j++ {
			switch strings.ToUpper(cols[j]) {
			case "DESC":
				ic.Desc = true
			case "COLLATE":
				if j+1 < len(cols) {
					ic.Collation = unquote(cols[j+1])
					j++
				}
			}
		}
		ix.Columns = append(ix.Columns, ic)
	}
	return ix, nil
}

// balancedBody returns the contents of the leading parenthesized group of
// s (which must start at '(') and whatever follows the closing paren.
func balancedBody(s string) (body, rest string, err error) {
	depth := 0
	inQuote := byte(0)
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inQuote != 0 {
			if ch == inQuote {
				inQuote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"', '`':
			inQuote = ch
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[1:i], s[i+1:], nil
			}
		}
	}
	return "", "", fmt.Errorf("unbalanced parentheses")
}

// splitTopLevel splits s on commas that sit outside parentheses and
// quotes.
func splitTopLevel(s string) []string {
	var parts []string
	depth := 0
	inQuote := byte(0)
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inQuote != 0 {
			if ch == inQuote {
				inQuote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"', '`', '[':
			if ch == '[' {
				inQuote = ']'
			} else {
				inQuote = ch
			}
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// tokenize splits on whitespace and parentheses, keeping quoted
// identifiers intact.
func tokenize(s string) []string {
	var tokens []string
	var cur strings.Builder
	inQuote := byte(0)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inQuote != 0 {
			cur.WriteByte(ch)
			if ch == inQuote {
				inQuote = 0
			}
			continue
		}
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			inQuote = ch
			cur.WriteByte(ch)
		case ch == '[':
			inQuote = ']'
			cur.WriteByte(ch)
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '(' || ch == ')' || ch == ',':
			flush()
		default:
			cur.WriteByte(ch)
		}
	}
	flush()
	return tokens
}

// unquote strips identifier quoting: "x", 'x', `x`, and [x].
func unquote(s string) string {
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') ||
			(first == '`' && last == '`') || (first == '[' && last == ']') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// parenNames returns the identifiers inside the first parenthesized group
// of s.
func parenNames(s string) []string {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return nil
	}
	body, _, err := balancedBody(s[open:])
	if err != nil {
		return nil
	}
	var names []string
	for _, part := range splitTopLevel(body) {
		tokens := tokenize(strings.TrimSpace(part))
		if len(tokens) > 0 {
			names = append(names, unquote(tokens[0]))
		}
	}
	return names
}

// containsWordPair reports whether the two words appear adjacent in s,
// case-insensitively.
func containsWordPair(s, a, b string) bool {
	tokens := tokenize(s)
	return wordPairIndex(tokens, a, b) >= 0
}

func wordPairIndex(tokens []string, a, b string) int {
	for i := 0; i+1 < len(tokens); i++ {
		if strings.EqualFold(tokens[i], a) && strings.EqualFold(tokens[i+1], b) {
			return i
		}
	}
	return -1
}
