package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Catalog.BaseURL != "https://fakestoreapi.com" {
		t.Errorf("unexpected catalog base url: %s", cfg.Catalog.BaseURL)
	}
	if cfg.Catalog.CacheTTL != 5*time.Minute {
		t.Errorf("unexpected catalog cache ttl: %s", cfg.Catalog.CacheTTL)
	}
	if cfg.Storage.Backend != StorageBackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Storage.Backend)
	}
	if cfg.Events.Enabled() {
		t.Errorf("expected pubsub relay to be disabled by default")
	}
	if cfg.Fragments.Source != FragmentSourceEmbedded {
		t.Errorf("expected embedded fragments, got %s", cfg.Fragments.Source)
	}
	if cfg.Site.Mount != "" {
		t.Errorf("expected empty mount, got %q", cfg.Site.Mount)
	}
	if len(cfg.Site.SupportedLocales) != 2 {
		t.Errorf("expected default locales, got %v", cfg.Site.SupportedLocales)
	}
	if cfg.Search.Limit != 12 || cfg.Search.Debounce != 180*time.Millisecond {
		t.Errorf("unexpected search defaults: %+v", cfg.Search)
	}
	if cfg.Checkout.TaxRate != 0.05 {
		t.Errorf("unexpected tax rate %v", cfg.Checkout.TaxRate)
	}
	if cfg.Checkout.ProcessingDelay != 1500*time.Millisecond {
		t.Errorf("unexpected processing delay %s", cfg.Checkout.ProcessingDelay)
	}
	want := []ShippingMethod{{"standard", 0}, {"express", 9.99}, {"overnight", 19.99}}
	if len(cfg.Checkout.ShippingMethods) != len(want) {
		t.Fatalf("unexpected shipping methods: %v", cfg.Checkout.ShippingMethods)
	}
	for i, m := range want {
		if cfg.Checkout.ShippingMethods[i] != m {
			t.Errorf("shipping method %d: expected %+v, got %+v", i, m, cfg.Checkout.ShippingMethods[i])
		}
	}
	if cfg.Session.CookieSecure {
		t.Errorf("expected insecure cookie outside production")
	}
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_SERVER_PORT":               "9090",
		"STOREFRONT_SERVER_READ_TIMEOUT":       "20s",
		"STOREFRONT_CATALOG_BASE_URL":          "http://catalog.internal/",
		"STOREFRONT_STORAGE_BACKEND":           "firestore",
		"STOREFRONT_FIRESTORE_PROJECT_ID":      "shop-dev",
		"STOREFRONT_PUBSUB_PROJECT_ID":         "shop-dev",
		"STOREFRONT_PUBSUB_TOPIC":              "cart-events",
		"STOREFRONT_PUBSUB_SUBSCRIPTION":       "cart-events-a",
		"STOREFRONT_FRAGMENTS_SOURCE":          "gcs",
		"STOREFRONT_FRAGMENTS_BUCKET":          "shop-fragments",
		"STOREFRONT_FRAGMENTS_PREFIX":          "/partials/",
		"STOREFRONT_SITE_MOUNT":                "shop/",
		"STOREFRONT_SUPPORTED_LOCALES":         "ja, en",
		"STOREFRONT_CHECKOUT_SHIPPING_METHODS": "pickup=0,courier=4.5",
		"STOREFRONT_ENV":                       "prod",
		"STOREFRONT_SESSION_SECRET":            "0123456789abcdef0123456789abcdef",
	}

	cfg, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Catalog.BaseURL != "http://catalog.internal" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Catalog.BaseURL)
	}
	if !cfg.Events.Enabled() {
		t.Errorf("expected relay enabled")
	}
	if cfg.Fragments.Prefix != "partials" {
		t.Errorf("unexpected prefix %q", cfg.Fragments.Prefix)
	}
	if cfg.Site.Mount != "/shop" {
		t.Errorf("unexpected mount %q", cfg.Site.Mount)
	}
	if cfg.Site.SupportedLocales[0] != "ja" {
		t.Errorf("unexpected locales %v", cfg.Site.SupportedLocales)
	}
	if cfg.Checkout.ShippingMethods[0].Name != "pickup" || cfg.Checkout.ShippingMethods[1].Price != 4.5 {
		t.Errorf("unexpected shipping methods %v", cfg.Checkout.ShippingMethods)
	}
	if !cfg.Session.CookieSecure {
		t.Errorf("expected secure cookies in production")
	}
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_STORAGE_BACKEND":           "redis",
		"STOREFRONT_PUBSUB_TOPIC":              "cart-events",
		"STOREFRONT_FRAGMENTS_SOURCE":          "http",
		"STOREFRONT_CHECKOUT_SHIPPING_METHODS": "standard=free",
		"STOREFRONT_ENV":                       "prod",
	}

	_, err := Load(WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := map[string]bool{}
	for _, f := range vErr.Fields() {
		fields[f] = true
	}
	for _, want := range []string{
		"Storage.Backend",
		"Events.ProjectID",
		"Events.Subscription",
		"Fragments.BaseURL",
		"Checkout.ShippingMethods",
		"Session.Secret",
	} {
		if !fields[want] {
			t.Errorf("expected %s in %v", want, vErr.Fields())
		}
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# local overrides\nexport STOREFRONT_SERVER_PORT=7000\nSTOREFRONT_SITE_NAME=\"Dotenv Shop\"\nSTOREFRONT_SEARCH_LIMIT=8\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("STOREFRONT_SERVER_PORT", "7100")
	t.Setenv("STOREFRONT_SEARCH_LIMIT", "9")

	cfg, err := Load(WithEnvFile(envPath), WithEnvMap(map[string]string{"STOREFRONT_SEARCH_LIMIT": "10"}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Site.Name != "Dotenv Shop" {
		t.Errorf("expected dotenv value, got %q", cfg.Site.Name)
	}
	if cfg.Server.Port != "7100" {
		t.Errorf("expected system env to beat dotenv, got %s", cfg.Server.Port)
	}
	if cfg.Search.Limit != 10 {
		t.Errorf("expected explicit map to win, got %d", cfg.Search.Limit)
	}
}
