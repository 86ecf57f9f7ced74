package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmFrom(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		defaultYes bool
		want       bool
	}{
		{name: "yes", input: "y\n", want: true},
		{name: "full word", input: "YES\n", want: true},
		{name: "no", input: "n\n", defaultYes: true, want: false},
		{name: "empty takes default no", input: "\n", want: false},
		{name: "empty takes default yes", input: "\n", defaultYes: true, want: true},
		{name: "no trailing newline", input: "y", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := ConfirmFrom(strings.NewReader(tt.input), &out, "Delete?", tt.defaultYes)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasPrefix(out.String(), "Delete? ["))
		})
	}

	t.Run("closed input", func(t *testing.T) {
		_, err := ConfirmFrom(strings.NewReader(""), &bytes.Buffer{}, "Delete?", false)
		assert.Error(t, err)
	})
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "Magento...", TruncateString("Magento_Checkout/js/view/cart", 10))
	assert.Equal(t, "Ma", TruncateString("Magento", 2))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
