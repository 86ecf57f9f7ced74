package usage

import (
	"encoding/json"
	"testing"

	"github.com/fluxbase-eu/pagepack/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultCollectorConfig() config.CollectorConfig {
	return config.CollectorConfig{
		SkipMarkers: []string{"js/bundle/"},
		PathRewrites: []config.RewriteRule{
			{From: ".min.js", To: ".js"},
			{From: "jquery/jquery.storageapi", To: "jquery/jquery.storageapi.min"},
			{From: "ui/template", To: "Magento_Ui/templates"},
		},
		PluginAlias: config.RewriteRule{From: "text", To: "mage/requirejs/text"},
		IDRewrites:  []config.RewriteRule{{From: "jquery/ui-modules", To: "jquery-ui-modules"}},
	}
}

// ===== AliasTable Tests =====

func TestAliasTable_UnmarshalJSON(t *testing.T) {
	t.Run("keeps document order", func(t *testing.T) {
		var table AliasTable
		err := json.Unmarshal([]byte(`{"z":"lib/z","a":"lib/a","m":"lib/m"}`), &table)
		require.NoError(t, err)
		assert.Equal(t, AliasTable{{"z", "lib/z"}, {"a", "lib/a"}, {"m", "lib/m"}}, table)
	})

	t.Run("takes first fallback of array values", func(t *testing.T) {
		var table AliasTable
		err := json.Unmarshal([]byte(`{"jquery":["lib/jquery","//cdn/jquery"],"bad":42}`), &table)
		require.NoError(t, err)
		assert.Equal(t, AliasTable{{"jquery", "lib/jquery"}}, table)
	})

	t.Run("accepts null", func(t *testing.T) {
		var table AliasTable
		require.NoError(t, json.Unmarshal([]byte(`null`), &table))
		assert.Nil(t, table)
	})

	t.Run("rejects non-object", func(t *testing.T) {
		var table AliasTable
		assert.Error(t, json.Unmarshal([]byte(`["a"]`), &table))
	})
}

func TestAliasTable_Lookup(t *testing.T) {
	table := AliasTable{{"first", "lib/x"}, {"second", "lib/x"}}

	name, ok := table.Lookup("lib/x")
	assert.True(t, ok)
	assert.Equal(t, "first", name)

	_, ok = table.Lookup("lib/y")
	assert.False(t, ok)
}

// ===== Normalizer Tests =====

func TestNormalizer_Skip(t *testing.T) {
	n := NewNormalizer(defaultCollectorConfig())

	tests := []struct {
		raw    string
		skip   bool
		reason SkipReason
	}{
		{raw: "frontend/Magento/luma/en_US/js/bundle/bundle0.js", skip: true, reason: SkipBundled},
		{raw: "https://cdn.example.com/lib.js", skip: true, reason: SkipAbsolute},
		{raw: "//cdn.example.com/lib.js", skip: true, reason: SkipAbsolute},
		{raw: "Magento_Ui/js/core/app.js"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			reason, skip := n.Skip(tt.raw)
			assert.Equal(t, tt.skip, skip)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestNormalizer_NormalizePath(t *testing.T) {
	n := NewNormalizer(defaultCollectorConfig())

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "jquery.min.js", want: "jquery.js"},
		{raw: "jquery/jquery.storageapi.min.js", want: "jquery/jquery.storageapi.min.js"},
		{raw: "jquery/jquery.storageapi.js", want: "jquery/jquery.storageapi.min.js"},
		{raw: "ui/template/form/field.html", want: "Magento_Ui/templates/form/field.html"},
		{raw: "Magento_Ui/js/core/app.js", want: "Magento_Ui/js/core/app.js"},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, n.NormalizePath(tt.raw))
		})
	}
}

func TestNormalizer_ModuleID(t *testing.T) {
	n := NewNormalizer(defaultCollectorConfig())
	aliases := AliasTable{
		{"text", "mage/requirejs/text"},
		{"jquery", "jquery"},
		{"customer-data", "Magento_Customer/js/customer-data"},
	}

	tests := []struct {
		name string
		path string
		want string
		ok   bool
	}{
		{name: "template", path: "Magento_Ui/templates/form/field.html", want: "text!Magento_Ui/templates/form/field.html", ok: true},
		{name: "aliased module", path: "Magento_Customer/js/customer-data.js", want: "customer-data", ok: true},
		{name: "text plugin alias", path: "mage/requirejs/text.js", want: "mage/requirejs/text", ok: true},
		{name: "unaliased module", path: "Magento_Ui/js/core/app.js", want: "Magento_Ui/js/core/app", ok: true},
		{name: "ui modules fixup", path: "jquery/ui-modules/widget.js", want: "jquery-ui-modules/widget", ok: true},
		{name: "stylesheet", path: "css/styles.css", ok: false},
		{name: "bare extension", path: ".js", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := n.ModuleID(tt.path, aliases)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestNormalizer_ConfigurableRules(t *testing.T) {
	cfg := defaultCollectorConfig()
	cfg.PathRewrites = append(cfg.PathRewrites, config.RewriteRule{From: "Vendor_Old/", To: "Vendor_New/"})
	n := NewNormalizer(cfg)

	assert.Equal(t, "Vendor_New/js/widget.js", n.NormalizePath("Vendor_Old/js/widget.min.js"))
}
