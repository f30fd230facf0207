package mysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSQL(t *testing.T) {
	escape := escapeStringBackslash

	for name, tc := range map[string]struct {
		sql    string
		params []Param
		want   string
	}{
		"no params": {
			sql:  "SELECT 1",
			want: "SELECT 1",
		},
		"int and escaped string": {
			sql:    "SELECT * FROM t WHERE id=? AND name=?",
			params: []Param{Long(42), String("O'Reilly")},
			want:   `SELECT * FROM t WHERE id=42 AND name='O\'Reilly'`,
		},
		"all integer widths": {
			sql:    "VALUES (?, ?, ?, ?)",
			params: []Param{Tiny(-1), Short(300), Long(-70000), LongLong(1 << 40)},
			want:   "VALUES (-1, 300, -70000, 1099511627776)",
		},
		"null and default": {
			sql:    "INSERT INTO t VALUES (?, ?)",
			params: []Param{Null(), Default()},
			want:   "INSERT INTO t VALUES (NULL, default)",
		},
		"fewer placeholders than params": {
			sql:    "SELECT ?",
			params: []Param{Long(1), Long(2)},
			want:   "SELECT 1",
		},
		"fewer params than placeholders": {
			sql:    "SELECT ?, ?",
			params: []Param{Long(1)},
			want:   "SELECT 1, ?",
		},
		"placeholder at end": {
			sql:    "SELECT id FROM t WHERE name=?",
			params: []Param{String("x")},
			want:   "SELECT id FROM t WHERE name='x'",
		},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, renderSQL(tc.sql, tc.params, escape))
		})
	}
}

func TestRenderSQLUnknownKindPanics(t *testing.T) {
	bogus := Param{kind: paramKind(99)}
	require.Panics(t, func() {
		renderSQL("SELECT ?", []Param{bogus}, escapeStringBackslash)
	})
}

func TestEscapeStringBackslash(t *testing.T) {
	assert.Equal(t, `O\'Reilly`, escapeStringBackslash("O'Reilly"))
	assert.Equal(t, `a\\b`, escapeStringBackslash(`a\b`))
	assert.Equal(t, `\"x\"`, escapeStringBackslash(`"x"`))
	assert.Equal(t, `line\nbreak`, escapeStringBackslash("line\nbreak"))
	assert.Equal(t, `cr\rlf`, escapeStringBackslash("cr\rlf"))
	assert.Equal(t, `nul\0byte`, escapeStringBackslash("nul\x00byte"))
	assert.Equal(t, `sub\Zbyte`, escapeStringBackslash("sub\x1abyte"))
	assert.Equal(t, "plain", escapeStringBackslash("plain"))
}

func TestEscapeStringQuotes(t *testing.T) {
	assert.Equal(t, "O''Reilly", escapeStringQuotes("O'Reilly"))
	assert.Equal(t, `back\slash`, escapeStringQuotes(`back\slash`))
}

func TestClientEscapeHonorsNoBackslashEscapes(t *testing.T) {
	c := &netClient{}
	assert.Equal(t, `O\'Reilly`, c.Escape("O'Reilly"))
	c.status = statusNoBackslashEscapes
	assert.Equal(t, "O''Reilly", c.Escape("O'Reilly"))
}
