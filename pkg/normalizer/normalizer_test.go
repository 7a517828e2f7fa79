package normalizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "empty input",
			html: "   \n\t ",
			want: "",
		},
		{
			name: "headings and paragraphs",
			html: "<h2>Getting   started</h2>\n\n<p>Install the <strong>CLI</strong> first.</p>\n\n<p>Then run it.</p>",
			want: "## Getting started\nInstall the **CLI** first.\nThen run it.",
		},
		{
			name: "leading space inside strong stays between words",
			html: "<p>Hello<strong> world</strong>!</p>",
			want: "Hello **world**!",
		},
		{
			name: "trailing space inside em stays between words",
			html: "<p>Use <em>very </em>carefully</p>",
			want: "Use *very* carefully",
		},
		{
			name: "links and inline code",
			html: "<p>Use <code>go test</code>, see <a href=\"https://go.dev\">the docs</a>.</p>",
			want: "Use `go test`, see [the docs](https://go.dev).",
		},
		{
			name: "blockquote",
			html: "<blockquote><p>quoted</p></blockquote><p>after</p>",
			want: "> quoted\nafter",
		},
		{
			name: "scripts dropped",
			html: "<p>visible</p><script>alert(1)</script><style>p{}</style>",
			want: "visible",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeBlocks(t *testing.T) {
	got, err := Normalize(`<ul><li>one</li><li>two</li></ul>` +
		`<pre><code class="language-go">func main() {}</code></pre>` +
		`<hr><p>Bye<br>now<img src="a.png" alt="pic"></p>`)
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	assert.Contains(t, lines, "- one")
	assert.Contains(t, lines, "- two")
	assert.Contains(t, lines, "```go")
	assert.Contains(t, lines, "func main() {}")
	assert.Contains(t, lines, "---")
	assert.Contains(t, got, "![pic](a.png)")
	assert.NotContains(t, got, "<")
}

func TestNormalizeHasNoBlankLines(t *testing.T) {
	got, err := Normalize("<div>\n\n<p>a</p>\n\n\n<p>b</p>\n<pre>x\n\n\ny</pre></div>")
	require.NoError(t, err)

	for _, line := range strings.Split(got, "\n") {
		assert.NotEmpty(t, strings.TrimSpace(line))
		assert.Equal(t, strings.TrimRight(line, " \t"), line)
	}
}
