package dump

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Dump columns, in the fixed order the game servers publish them.
const (
	colWorldID = iota
	colX
	colY
	colTribe
	colVillageID
	colName
	colPlayerID
	colPlayer
	colAllianceID
	colAlliance
	colPopulation
	colCapital
	colIsWW
	colWWName

	minColumns = colPopulation + 1
)

// SkippedRow records one malformed row that was skipped during parsing.
type SkippedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result is the outcome of parsing one dump.
type Result struct {
	Villages []Village    `json:"villages"`
	Skipped  []SkippedRow `json:"skipped,omitempty"`
}

// ParseError means the dump as a whole could not be used: either the
// format was unrecognizable or no row survived parsing. Row-level
// corruption is not a ParseError; it lands in Result.Skipped.
type ParseError struct {
	Reason  string
	Skipped int
}

func (e *ParseError) Error() string {
	if e.Skipped > 0 {
		return fmt.Sprintf("parse dump: %s (%d rows skipped)", e.Reason, e.Skipped)
	}
	return "parse dump: " + e.Reason
}

// Parse extracts settlement rows from a world dump. The dump is a text
// stream of INSERT statements for the x_world table, interleaved with
// comments and schema statements that are skipped. The input is never
// executed, only pattern-extracted. Single linear pass; a corrupt row
// is skipped and recorded, and Parse fails only when zero valid rows
// come out.
func Parse(raw []byte) (*Result, error) {
	res := &Result{}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())

		if line == "" || strings.HasPrefix(line, "--") || strings.HasPrefix(line, "/*") {
			continue
		}

		lower := strings.ToLower(line)
		if !strings.Contains(lower, "insert into") || !strings.Contains(lower, "x_world") {
			continue
		}

		idx := strings.Index(lower, "values")
		if idx < 0 {
			res.skip(lineNo, "insert without VALUES clause")
			continue
		}

		tuple := strings.TrimSpace(line[idx+len("values"):])
		start := strings.IndexByte(tuple, '(')
		end := strings.LastIndexByte(tuple, ')')
		if start < 0 || end < start {
			res.skip(lineNo, "unbalanced value tuple")
			continue
		}

		v, err := parseRow(tuple[start+1 : end])
		if err != nil {
			res.skip(lineNo, err.Error())
			continue
		}
		res.Villages = append(res.Villages, v)
	}
	if err := sc.Err(); err != nil {
		return nil, &ParseError{Reason: err.Error(), Skipped: len(res.Skipped)}
	}

	if len(res.Villages) == 0 {
		return nil, &ParseError{Reason: "no valid settlement rows", Skipped: len(res.Skipped)}
	}
	return res, nil
}

func (r *Result) skip(line int, reason string) {
	r.Skipped = append(r.Skipped, SkippedRow{Line: line, Reason: reason})
}

func parseRow(values string) (Village, error) {
	fields := splitValues(values)
	if len(fields) < minColumns {
		return Village{}, fmt.Errorf("%d values, want at least %d", len(fields), minColumns)
	}

	x, err := parseInt(fields[colX])
	if err != nil {
		return Village{}, fmt.Errorf("x: %w", err)
	}
	y, err := parseInt(fields[colY])
	if err != nil {
		return Village{}, fmt.Errorf("y: %w", err)
	}
	pop, err := parseInt(fields[colPopulation])
	if err != nil {
		return Village{}, fmt.Errorf("population: %w", err)
	}
	if pop < 0 {
		return Village{}, fmt.Errorf("negative population %d", pop)
	}

	v := Village{
		WorldID:    parseInt64Opt(fields[colWorldID]),
		X:          x,
		Y:          y,
		TribeID:    int(parseInt64Opt(fields[colTribe])),
		VillageID:  parseInt64Opt(fields[colVillageID]),
		Name:       unquote(fields[colName]),
		PlayerID:   parseInt64Opt(fields[colPlayerID]),
		Player:     unquote(fields[colPlayer]),
		AllianceID: parseInt64Opt(fields[colAllianceID]),
		Alliance:   unquote(fields[colAlliance]),
		Population: pop,
	}
	if len(fields) > colCapital {
		v.Capital = parseBool(fields[colCapital])
	}
	if len(fields) > colIsWW {
		v.IsWW = parseBool(fields[colIsWW])
	}
	if len(fields) > colWWName {
		v.WWName = unquote(fields[colWWName])
	}
	v.Key = IdentityKey(v.WorldID, v.X, v.Y)
	return v, nil
}

// splitValues splits a comma-separated value tuple, honoring single and
// double quoted strings. Doubled quotes and backslash escapes inside a
// quoted string do not terminate it.
func splitValues(s string) []string {
	var (
		fields  []string
		current strings.Builder
		inQuote bool
		quote   byte
	)

	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case inQuote && ch == '\\' && i+1 < len(s):
			current.WriteByte(ch)
			current.WriteByte(s[i+1])
			i++
		case inQuote && ch == quote:
			if i+1 < len(s) && s[i+1] == quote {
				current.WriteByte(ch)
				current.WriteByte(ch)
				i++
				continue
			}
			inQuote = false
			current.WriteByte(ch)
		case !inQuote && (ch == '\'' || ch == '"'):
			inQuote = true
			quote = ch
			current.WriteByte(ch)
		case !inQuote && ch == ',':
			fields = append(fields, strings.TrimSpace(current.String()))
			current.Reset()
		default:
			current.WriteByte(ch)
		}
	}
	fields = append(fields, strings.TrimSpace(current.String()))
	return fields
}

// unquote strips surrounding quotes and unescapes the content. NULL and
// empty values become the empty string.
func unquote(s string) string {
	if s == "" || strings.EqualFold(s, "NULL") {
		return ""
	}
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		q := s[0]
		s = s[1 : len(s)-1]
		s = strings.ReplaceAll(s, string([]byte{q, q}), string(q))
		s = strings.ReplaceAll(s, string([]byte{'\\', q}), string(q))
		s = strings.ReplaceAll(s, `\\`, `\`)
	}
	return s
}

// parseInt accepts bare or quoted integers.
func parseInt(s string) (int, error) {
	return strconv.Atoi(unquote(s))
}

// parseInt64Opt returns 0 for NULL or unparseable optional numerics.
func parseInt64Opt(s string) int64 {
	n, err := strconv.ParseInt(unquote(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseBool(s string) bool {
	switch strings.ToUpper(unquote(s)) {
	case "TRUE", "T", "1":
		return true
	}
	return false
}
