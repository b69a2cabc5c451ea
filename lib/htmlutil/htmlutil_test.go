package htmlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func TestGetText(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<p class="price_sect"><a><strong>45,500</strong>원</a></p>`))
	require.NoError(t, err)
	require.Equal(t, "45,500원", GetText(doc))
	require.Equal(t, "", GetText(nil))
}

func TestCleanText(t *testing.T) {
	cases := []struct {
		in     string
		expect string
	}{
		{in: "  129,000원 \n", expect: "129,000원"},
		{in: "a\u200b\u200bb", expect: "ab"},
		{in: "최저가\n\t\t 12,000원", expect: "최저가 12,000원"},
		{in: "\u00a07,990원\u00a0", expect: "7,990원"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expect, CleanText(tc.in), tc.in)
	}
}
