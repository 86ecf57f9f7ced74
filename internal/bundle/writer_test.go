package bundle

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundleDir = testRoot + "/js/bundle"

func newTestWriter(t *testing.T, dir *memDir, opts WriterOptions) *Writer {
	t.Helper()
	sources, err := NewSourceReader(dir, 64)
	require.NoError(t, err)
	if opts.BundleDir == "" {
		opts.BundleDir = bundleDir
	}
	if opts.RegistryDir == "" {
		opts.RegistryDir = "js/bundle"
	}
	return NewWriter(dir, sources, NewOrderer(nil), NewWrapper([]string{"jquery", "underscore"}, nil), opts)
}

func kb(n int) string {
	return strings.Repeat("x", n*1024)
}

func TestWriter_RenderFlat(t *testing.T) {
	ctx := context.Background()

	t.Run("splits pools by size budget", func(t *testing.T) {
		dir := newMemDir(map[string]string{
			"src/a.js": kb(4),
			"src/b.js": kb(4),
			"src/c.js": kb(4),
		})
		w := newTestWriter(t, dir, WriterOptions{})

		outputs, err := w.RenderFlat(ctx, []Pool{{Name: "jsbuild", Assets: []Asset{
			{Path: "a.js", SourceKey: "src/a.js", ContentType: "js"},
			{Path: "b.js", SourceKey: "src/b.js", ContentType: "js"},
			{Path: "c.js", SourceKey: "src/c.js", ContentType: "js"},
		}}}, 10)
		require.NoError(t, err)

		require.Len(t, outputs, 2)
		assert.Equal(t, []string{"a.js", "b.js"}, outputs[0].Modules)
		assert.Equal(t, []string{"c.js"}, outputs[1].Modules)
		assert.Equal(t, bundleDir+"/bundle0.js", outputs[0].Key)
		assert.Equal(t, bundleDir+"/bundle1.js", outputs[1].Key)
		assert.Equal(t, KindShared, outputs[0].Kind)

		assert.NotContains(t, string(outputs[0].Data), "deps: [")
		assert.True(t, strings.HasSuffix(string(outputs[1].Data), initJS))
	})

	t.Run("renders the loader config format", func(t *testing.T) {
		dir := newMemDir(map[string]string{
			"src/mage/url.js":   `define([], function () { return "<a>"; });`,
			"src/templates.html": "<div>\n</div>",
		})
		w := newTestWriter(t, dir, WriterOptions{Minification: Minification{Enabled: true}})

		outputs, err := w.RenderFlat(ctx, []Pool{
			{Name: "jsbuild", Assets: []Asset{{Path: "mage/url.js", SourceKey: "src/mage/url.js", ContentType: "js"}}},
			{Name: "text", Assets: []Asset{{Path: "Magento_Ui/templates/grid.html", SourceKey: "src/templates.html", ContentType: "html"}}},
		}, 1024)
		require.NoError(t, err)
		require.Len(t, outputs, 2)

		assert.Equal(t, bundleDir+"/bundle0.min.js", outputs[0].Key)
		assert.Equal(t,
			"require.config({\"config\": {\n"+
				"        \"jsbuild\":{\"mage/url.min.js\":\"define([], function () { return \\\"<a>\\\"; });\"}\n"+
				"}});\n",
			string(outputs[0].Data))
		assert.Equal(t,
			"require.config({\"config\": {\n"+
				"        \"text\":{\"Magento_Ui/templates/grid.min.html\":\"<div>\\n</div>\"}\n"+
				"}});\n"+initJS,
			string(outputs[1].Data))
	})

	t.Run("oversized file goes alone", func(t *testing.T) {
		dir := newMemDir(map[string]string{
			"src/big.js":   kb(12),
			"src/small.js": kb(1),
		})
		w := newTestWriter(t, dir, WriterOptions{})

		outputs, err := w.RenderFlat(ctx, []Pool{{Name: "jsbuild", Assets: []Asset{
			{Path: "big.js", SourceKey: "src/big.js"},
			{Path: "small.js", SourceKey: "src/small.js"},
		}}}, 10)
		require.NoError(t, err)

		require.Len(t, outputs, 2)
		assert.Equal(t, []string{"big.js"}, outputs[0].Modules)
		assert.Equal(t, []string{"small.js"}, outputs[1].Modules)
	})

	t.Run("missing source aborts", func(t *testing.T) {
		w := newTestWriter(t, newMemDir(nil), WriterOptions{})
		_, err := w.RenderFlat(ctx, []Pool{{Name: "jsbuild", Assets: []Asset{{Path: "a.js", SourceKey: "src/a.js"}}}}, 10)
		assert.ErrorIs(t, err, ErrMissingContent)
	})
}

func TestWriter_RenderPageSpecific(t *testing.T) {
	ctx := context.Background()

	dir := newMemDir(map[string]string{
		"src/jquery.js":   `define('jquery', [], function () { return window.jQuery; });`,
		"src/cart.js":     `define(['jquery', 'Magento_Checkout/js/model/quote'], function ($, quote) {});`,
		"src/quote.js":    `define(['jquery'], function ($) { return {}; });`,
		"src/legacy.js":   `window.legacy = true;`,
		"src/summary.html": "<p class='total'>\n</p>",
	})

	buckets := []ResolvedBucket{
		{Name: DefaultBucket, Members: []Member{{ID: "jquery", Asset: Asset{SourceKey: "src/jquery.js"}}}},
		{Name: "checkout", Members: []Member{
			{ID: "Magento_Checkout/js/view/cart", Asset: Asset{SourceKey: "src/cart.js"}},
			{ID: "text!Magento_Checkout/template/summary.html", Asset: Asset{SourceKey: "src/summary.html"}},
			{ID: "Magento_Checkout/js/model/quote", Asset: Asset{SourceKey: "src/quote.js"}},
			{ID: "legacy", Asset: Asset{SourceKey: "src/legacy.js"}},
		}},
		{Name: "catalog"},
	}

	w := newTestWriter(t, dir, WriterOptions{Parallelism: 2, Validator: ESBuildValidator{}})
	outputs, registry, err := w.RenderPageSpecific(ctx, buckets, []string{"checkout", "catalog"})
	require.NoError(t, err)

	keys := make([]string, len(outputs))
	for i, o := range outputs {
		keys[i] = o.Key
	}
	assert.Equal(t, []string{
		bundleDir + "/default.js",
		bundleDir + "/checkout.js",
		bundleDir + "/requirejs-config-checkout.js",
		bundleDir + "/requirejs-config-catalog.js",
	}, keys)

	checkout := outputs[1]
	assert.Equal(t, KindPage, checkout.Kind)
	assert.Equal(t, []string{
		"Magento_Checkout/js/model/quote",
		"Magento_Checkout/js/view/cart",
		"text!Magento_Checkout/template/summary.html",
		"legacy",
	}, checkout.Modules)

	t.Run("registry matches written order", func(t *testing.T) {
		ids, ok := registry.Modules("checkout")
		require.True(t, ok)
		assert.Equal(t, checkout.Modules, ids)
	})

	t.Run("modules are wrapped in order", func(t *testing.T) {
		lines := strings.Split(strings.TrimSuffix(string(checkout.Data), "\n"), "\n")
		require.GreaterOrEqual(t, len(lines), 4)
		assert.Equal(t, `define('Magento_Checkout/js/model/quote',['jquery'], function ($) { return {}; });`, lines[0])
		assert.True(t, strings.HasPrefix(lines[1], `define('Magento_Checkout/js/view/cart',['jquery',`))
		assert.Equal(t, `define('text!Magento_Checkout/template/summary.html', function() {return '<p class=\'total\'>\n</p>';});`, lines[2])
		assert.True(t, strings.HasPrefix(lines[3], `define('legacy', (require.s.contexts._.config.shim['legacy']`))
	})

	t.Run("exempt modules stay untouched", func(t *testing.T) {
		assert.Equal(t, `define('jquery', [], function () { return window.jQuery; });`+"\n", string(outputs[0].Data))
	})

	t.Run("config files merge the default entry", func(t *testing.T) {
		assert.Equal(t,
			"requirejs.config({bundles:{'js/bundle/default':['jquery'],'js/bundle/checkout':['Magento_Checkout/js/model/quote','Magento_Checkout/js/view/cart','text!Magento_Checkout/template/summary.html','legacy']}});",
			string(outputs[2].Data))
		assert.Equal(t, KindConfig, outputs[3].Kind)
		assert.Equal(t, "requirejs.config({bundles:{'js/bundle/default':['jquery']}});", string(outputs[3].Data))
	})
}

func TestWriter_RenderPageSpecific_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("missing content is fatal", func(t *testing.T) {
		w := newTestWriter(t, newMemDir(nil), WriterOptions{})
		_, _, err := w.RenderPageSpecific(ctx, []ResolvedBucket{
			{Name: "checkout", Members: []Member{{ID: "a", Asset: Asset{SourceKey: "src/a.js"}}}},
		}, []string{"checkout"})
		assert.ErrorIs(t, err, ErrMissingContent)
	})

	t.Run("cycles are fatal", func(t *testing.T) {
		dir := newMemDir(map[string]string{
			"src/a.js": `define(['b'], f);`,
			"src/b.js": `define(['a'], f);`,
		})
		w := newTestWriter(t, dir, WriterOptions{})
		_, _, err := w.RenderPageSpecific(ctx, []ResolvedBucket{
			{Name: "checkout", Members: []Member{
				{ID: "a", Asset: Asset{SourceKey: "src/a.js"}},
				{ID: "b", Asset: Asset{SourceKey: "src/b.js"}},
			}},
		}, []string{"checkout"})

		var cycleErr *CycleError
		assert.ErrorAs(t, err, &cycleErr)
	})

	t.Run("bucket names must stay inside the bundle directory", func(t *testing.T) {
		dir := newMemDir(map[string]string{"src/a.js": `define([], f);`})
		w := newTestWriter(t, dir, WriterOptions{})

		for _, name := range []string{"../../Magento_Checkout/js/view/cart", "..", "sub/page", `a\b`} {
			_, _, err := w.RenderPageSpecific(ctx, []ResolvedBucket{
				{Name: name, Members: []Member{{ID: "a", Asset: Asset{SourceKey: "src/a.js"}}}},
			}, []string{name})
			assert.ErrorIs(t, err, ErrInvalidBucketName, name)
		}

		_, _, err := w.RenderPageSpecific(ctx, nil, []string{"../cms"})
		assert.ErrorIs(t, err, ErrInvalidBucketName)
	})

	t.Run("invalid output is fatal", func(t *testing.T) {
		dir := newMemDir(map[string]string{"src/a.js": `define(f);`})
		w := newTestWriter(t, dir, WriterOptions{Validator: failingValidator{match: "checkout"}})
		_, _, err := w.RenderPageSpecific(ctx, []ResolvedBucket{
			{Name: "checkout", Members: []Member{{ID: "a", Asset: Asset{SourceKey: "src/a.js"}}}},
		}, []string{"checkout"})
		assert.ErrorIs(t, err, ErrInvalidOutput)
	})
}

func TestWriter_Write(t *testing.T) {
	ctx := context.Background()
	outputs := []Output{
		{Key: bundleDir + "/default.js", Kind: KindPage, Data: []byte("define('a',f);\n")},
		{Key: bundleDir + "/requirejs-config-cms.js", Kind: KindConfig, Data: []byte("requirejs.config({bundles:{}});")},
	}

	t.Run("writes every output", func(t *testing.T) {
		dir := newMemDir(nil)
		w := newTestWriter(t, dir, WriterOptions{Parallelism: 2})
		require.NoError(t, w.Write(ctx, outputs))

		content, ok := dir.get(bundleDir + "/default.js")
		require.True(t, ok)
		assert.Equal(t, "define('a',f);\n", content)
		assert.Len(t, dir.keysUnder(bundleDir), 2)
	})

	t.Run("storage failure propagates", func(t *testing.T) {
		dir := newMemDir(nil)
		dir.writeErr = errDiskFull
		w := newTestWriter(t, dir, WriterOptions{})
		assert.ErrorIs(t, w.Write(ctx, outputs), errDiskFull)
	})

	t.Run("shared bundles are validated before writing", func(t *testing.T) {
		dir := newMemDir(nil)
		w := newTestWriter(t, dir, WriterOptions{Validator: failingValidator{match: "bundle0"}})
		err := w.Write(ctx, []Output{
			{Key: bundleDir + "/bundle0.js", Kind: KindShared, Data: []byte("require.config(")},
		})
		assert.ErrorIs(t, err, ErrInvalidOutput)
		assert.Empty(t, dir.keysUnder(bundleDir))
	})
}
