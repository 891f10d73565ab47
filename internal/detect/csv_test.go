package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectCSVDialect(t *testing.T) {
	tests := []struct {
		name   string
		sample string
		delim  rune
		quote  rune
		cols   int
	}{
		{"comma", "a,b,c\n1,2,3", ',', '"', 3},
		{"semicolon", "a;b;c\n1;2;3", ';', '"', 3},
		{"pipe", "x|y\n1|2\n3|4\n", '|', '"', 2},
		{"tab", "x\ty\tz\n1\t2\t3\n", '\t', '"', 3},
		{"quoted delimiter", "name,note\n\"Smith, J\",ok\n\"Doe, A\",fine\n", ',', '"', 2},
		{"single quotes", "name;note\n'a;b';c\n'd;e';f\n", ';', '\'', 2},
		{"ambiguous falls back to comma", "a,b;c\n1,2;3\n", ',', '"', 2},
		{"no delimiter", "hello\nworld\n", ',', '"', 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DetectCSVDialect([]byte(tt.sample))
			assert.Equal(t, tt.delim, d.Delimiter)
			assert.Equal(t, tt.quote, d.Quote)
			assert.Equal(t, tt.cols, d.Columns)
		})
	}
}

func TestDetectCSVDialect_Empty(t *testing.T) {
	assert.Equal(t, DefaultCSVDialect, DetectCSVDialect(nil))
}

func TestSplitRecords(t *testing.T) {
	d := CSVDialect{Delimiter: ',', Quote: '"'}
	recs := SplitRecords("a,\"b \"\"q\"\"\",c\r\n\"multi\nline\",2,3\n", d, 0)
	assert.Equal(t, [][]string{
		{"a", "b \"q\"", "c"},
		{"multi\nline", "2", "3"},
	}, recs)

	esc := CSVDialect{Delimiter: ',', Quote: '"', Escape: '\\'}
	recs = SplitRecords(`"a\"b",c`, esc, 0)
	assert.Equal(t, [][]string{{`a"b`, "c"}}, recs)
}

func TestSplitRecords_Limit(t *testing.T) {
	recs := SplitRecords("1\n2\n3\n4\n", DefaultCSVDialect, 2)
	assert.Len(t, recs, 2)
}
