package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum_IgnoresFormatting(t *testing.T) {
	a := "ALTER TABLE users ADD COLUMN phone text;"
	b := `-- add phone numbers
alter   table users
	/* nullable */ add column phone TEXT;
`
	assert.Equal(t, Checksum(a), Checksum(b))
	assert.Len(t, Checksum(a), 64)
}

func TestChecksum_DetectsChanges(t *testing.T) {
	assert.NotEqual(t,
		Checksum("ALTER TABLE users ADD COLUMN phone text"),
		Checksum("ALTER TABLE users ADD COLUMN email text"))
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"line comment", "SELECT 1; -- trailing\nSELECT 2;", "SELECT 1;  \nSELECT 2;"},
		{"line comment at end", "SELECT 1; -- done", "SELECT 1;  "},
		{"block comment", "SELECT /* one */ 1", "SELECT   1"},
		{"nested block", "SELECT /* a /* b */ c */ 1", "SELECT   1"},
		{"quoted dashes kept", "SELECT '-- not a comment'", "SELECT '-- not a comment'"},
		{"escaped quote", "SELECT 'it''s -- fine'", "SELECT 'it''s -- fine'"},
		{"dollar body kept", "DO $$ BEGIN -- keep\nEND $$", "DO $$ BEGIN -- keep\nEND $$"},
		{"tagged dollar body", "SELECT $fn$ /* x */ $fn$", "SELECT $fn$ /* x */ $fn$"},
		{"positional parameter", "SELECT $1 -- arg", "SELECT $1  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripComments(tt.in))
		})
	}
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank("  \n-- nothing to do\n/* really */\n"))
	assert.False(t, IsBlank("-- add index\nCREATE INDEX ON users (email);"))
}
