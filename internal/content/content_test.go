package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_NoMarkers(t *testing.T) {
	cases := []struct {
		in   string
		want []Segment
	}{
		{"", nil},
		{"   \n\t ", nil},
		{"plain text", []Segment{Text("plain text")}},
		{"  padded \n", []Segment{Text("padded")}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Segments(tc.in), "input=%q", tc.in)
	}
}

func TestDecode_SingleReference(t *testing.T) {
	got := Segments("A<<<f.png>>>B")
	require.Equal(t, []Segment{Text("A"), Resource("f.png"), Text("B")}, got)
}

func TestDecode_TrimsNamesAndDropsBlankText(t *testing.T) {
	got := Segments("  <<< chart.png >>>  \n <<<heat.png>>>tail")
	require.Equal(t, []Segment{Resource("chart.png"), Resource("heat.png"), Text("tail")}, got)
}

func TestDecode_MalformedMarkersStayLiteral(t *testing.T) {
	cases := []struct {
		in   string
		want []Segment
	}{
		{"open <<<never closed", []Segment{Text("open <<<never closed")}},
		{"empty <<<>>> marker", []Segment{Text("empty <<<>>> marker")}},
		{"blank <<<   >>> marker", []Segment{Text("blank <<<   >>> marker")}},
		{"split <<<a>b>>> name", []Segment{Text("split <<<a>b>>> name")}},
		{"short <<<a>> close", []Segment{Text("short <<<a>> close")}},
		{"<<<<a.png>>>", []Segment{Resource("<a.png")}},
		{"x <<<bad <<<ok.png>>> y", []Segment{Text("x <<<bad"), Resource("ok.png"), Text("y")}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Segments(tc.in), "input=%q", tc.in)
	}
}

func TestDecode_IsRestartable(t *testing.T) {
	seq := Decode("one <<<a.png>>> two <<<b.png>>>")
	first := collect(seq)
	second := collect(seq)
	require.Len(t, first, 4)
	assert.Equal(t, first, second)
}

func TestDecode_StopsEarly(t *testing.T) {
	n := 0
	for range Decode("a <<<x>>> b <<<y>>> c") {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestRender_InvokesResourceCallbackInOrder(t *testing.T) {
	var seen []string
	out := Render("See <<<chart.png>>> above <<<heat.png>>>", nil, func(name string) string {
		seen = append(seen, name)
		return "[" + name + "]"
	})
	assert.Equal(t, []string{"chart.png", "heat.png"}, seen)
	assert.Equal(t, "See\n\n[chart.png]\n\nabove\n\n[heat.png]", out)
}

func TestReferencesAndChartKind(t *testing.T) {
	assert.Equal(t, []string{"corr_heatmap.png", "bars.png"}, References("<<<corr_heatmap.png>>> and <<<bars.png>>>"))
	assert.Empty(t, References("nothing here"))
	assert.Equal(t, "heatmap", ChartKind("Corr_HEATmap.png"))
	assert.Equal(t, "bar", ChartKind("volume.png"))
}

func collect(seq func(func(Segment) bool)) []Segment {
	var out []Segment
	seq(func(s Segment) bool {
		out = append(out, s)
		return true
	})
	return out
}
