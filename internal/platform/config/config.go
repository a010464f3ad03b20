package config

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultEnvironment      = "local"
	defaultLogLevel         = "info"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultCatalogBaseURL   = "https://fakestoreapi.com"
	defaultCatalogTimeout   = 10 * time.Second
	defaultCatalogCacheTTL  = 5 * time.Minute
	defaultStorageBackend   = StorageBackendMemory
	defaultSQLitePath       = "storefront.db"
	defaultFirestoreColl    = "storefronts"
	defaultFragmentSource   = FragmentSourceEmbedded
	defaultSessionCookie    = "STOREFRONT_SESSION"
	defaultSessionTTL       = 30 * 24 * time.Hour
	defaultLocale           = "en"
	defaultSearchLimit      = 12
	defaultSearchDebounce   = 180 * time.Millisecond
	defaultSearchIdleTTL    = 30 * time.Minute
	defaultTaxRate          = 0.05
	defaultProcessingDelay  = 1500 * time.Millisecond
	defaultShippingMethods  = "standard=0,express=9.99,overnight=19.99"
	minSessionSecretLength  = 32
	productionEnvironment   = "prod"
	defaultSupportedLocales = "en,ja"
)

// Storage backends understood by the kv package.
const (
	StorageBackendMemory    = "memory"
	StorageBackendSQLite    = "sqlite"
	StorageBackendFirestore = "firestore"
)

// Fragment sources understood by the fragments package.
const (
	FragmentSourceEmbedded = "embedded"
	FragmentSourceDir      = "dir"
	FragmentSourceHTTP     = "http"
	FragmentSourceGCS      = "gcs"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	DevMode     bool
	Server      ServerConfig
	Catalog     CatalogConfig
	Storage     StorageConfig
	Events      EventsConfig
	Fragments   FragmentsConfig
	Site        SiteConfig
	Session     SessionConfig
	Search      SearchConfig
	Checkout    CheckoutConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CatalogConfig points at the product API.
type CatalogConfig struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// StorageConfig selects the key/value backend holding carts and the last order.
type StorageConfig struct {
	Backend               string
	SQLitePath            string
	FirestoreProjectID    string
	FirestoreEmulatorHost string
	FirestoreCollection   string
}

// EventsConfig enables the Pub/Sub relay between instances. Empty topic disables it.
type EventsConfig struct {
	ProjectID    string
	Topic        string
	Subscription string
	EmulatorHost string
}

// Enabled reports whether cross-instance relaying is configured.
func (c EventsConfig) Enabled() bool {
	return strings.TrimSpace(c.Topic) != ""
}

// FragmentsConfig selects where shared page fragments are read from.
type FragmentsConfig struct {
	Source  string
	Dir     string
	BaseURL string
	Bucket  string
	Prefix  string
}

// SiteConfig covers presentation settings.
type SiteConfig struct {
	Name             string
	Mount            string
	DefaultLocale    string
	SupportedLocales []string
}

// SessionConfig controls the signed visitor cookie.
type SessionConfig struct {
	Secret       string
	CookieName   string
	CookieSecure bool
	TTL          time.Duration
}

// SearchConfig tunes the search overlay.
type SearchConfig struct {
	Limit    int
	Debounce time.Duration
	IdleTTL  time.Duration
}

// ShippingMethod is a selectable shipping option with a flat cost.
type ShippingMethod struct {
	Name  string
	Price float64
}

// CheckoutConfig tunes the simulated checkout.
type CheckoutConfig struct {
	TaxRate         float64
	ProcessingDelay time.Duration
	ShippingMethods []ShippingMethod
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and explicit maps (in increasing precedence).
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string

	environment := strings.ToLower(stringWithDefault(lookup, "STOREFRONT_ENV", defaultEnvironment))
	shipping, err := shippingMethods(stringWithDefault(lookup, "STOREFRONT_CHECKOUT_SHIPPING_METHODS", defaultShippingMethods))
	if err != nil {
		invalid = append(invalid, "Checkout.ShippingMethods")
	}
	taxRate, err := floatWithDefault(lookup, "STOREFRONT_CHECKOUT_TAX_RATE", defaultTaxRate)
	if err != nil {
		invalid = append(invalid, "Checkout.TaxRate")
	}

	cfg := Config{
		Environment: environment,
		LogLevel:    stringWithDefault(lookup, "STOREFRONT_LOG_LEVEL", stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		DevMode:     boolWithDefault(lookup, "STOREFRONT_DEV", false),
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "STOREFRONT_SERVER_PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "STOREFRONT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "STOREFRONT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "STOREFRONT_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Catalog: CatalogConfig{
			BaseURL:  strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_CATALOG_BASE_URL", defaultCatalogBaseURL), "/"),
			Timeout:  durationWithDefault(lookup, "STOREFRONT_CATALOG_TIMEOUT", defaultCatalogTimeout),
			CacheTTL: durationWithDefault(lookup, "STOREFRONT_CATALOG_CACHE_TTL", defaultCatalogCacheTTL),
		},
		Storage: StorageConfig{
			Backend:               strings.ToLower(stringWithDefault(lookup, "STOREFRONT_STORAGE_BACKEND", defaultStorageBackend)),
			SQLitePath:            stringWithDefault(lookup, "STOREFRONT_STORAGE_SQLITE_PATH", defaultSQLitePath),
			FirestoreProjectID:    stringWithDefault(lookup, "STOREFRONT_FIRESTORE_PROJECT_ID", ""),
			FirestoreEmulatorHost: stringWithDefault(lookup, "STOREFRONT_FIRESTORE_EMULATOR_HOST", ""),
			FirestoreCollection:   stringWithDefault(lookup, "STOREFRONT_FIRESTORE_COLLECTION", defaultFirestoreColl),
		},
		Events: EventsConfig{
			ProjectID:    stringWithDefault(lookup, "STOREFRONT_PUBSUB_PROJECT_ID", ""),
			Topic:        stringWithDefault(lookup, "STOREFRONT_PUBSUB_TOPIC", ""),
			Subscription: stringWithDefault(lookup, "STOREFRONT_PUBSUB_SUBSCRIPTION", ""),
			EmulatorHost: stringWithDefault(lookup, "STOREFRONT_PUBSUB_EMULATOR_HOST", ""),
		},
		Fragments: FragmentsConfig{
			Source:  strings.ToLower(stringWithDefault(lookup, "STOREFRONT_FRAGMENTS_SOURCE", defaultFragmentSource)),
			Dir:     stringWithDefault(lookup, "STOREFRONT_FRAGMENTS_DIR", ""),
			BaseURL: strings.TrimRight(stringWithDefault(lookup, "STOREFRONT_FRAGMENTS_BASE_URL", ""), "/"),
			Bucket:  stringWithDefault(lookup, "STOREFRONT_FRAGMENTS_BUCKET", ""),
			Prefix:  strings.Trim(stringWithDefault(lookup, "STOREFRONT_FRAGMENTS_PREFIX", ""), "/"),
		},
		Site: SiteConfig{
			Name:             stringWithDefault(lookup, "STOREFRONT_SITE_NAME", "Storefront"),
			Mount:            normaliseMount(stringWithDefault(lookup, "STOREFRONT_SITE_MOUNT", "")),
			DefaultLocale:    stringWithDefault(lookup, "STOREFRONT_DEFAULT_LOCALE", defaultLocale),
			SupportedLocales: csvWithDefault(lookup, "STOREFRONT_SUPPORTED_LOCALES", defaultSupportedLocales),
		},
		Session: SessionConfig{
			Secret:       stringWithDefault(lookup, "STOREFRONT_SESSION_SECRET", ""),
			CookieName:   stringWithDefault(lookup, "STOREFRONT_SESSION_COOKIE", defaultSessionCookie),
			CookieSecure: boolWithDefault(lookup, "STOREFRONT_SESSION_COOKIE_SECURE", environment == productionEnvironment),
			TTL:          durationWithDefault(lookup, "STOREFRONT_SESSION_TTL", defaultSessionTTL),
		},
		Search: SearchConfig{
			Limit:    intWithDefault(lookup, "STOREFRONT_SEARCH_LIMIT", defaultSearchLimit),
			Debounce: durationWithDefault(lookup, "STOREFRONT_SEARCH_DEBOUNCE", defaultSearchDebounce),
			IdleTTL:  durationWithDefault(lookup, "STOREFRONT_SEARCH_IDLE_TTL", defaultSearchIdleTTL),
		},
		Checkout: CheckoutConfig{
			TaxRate:         taxRate,
			ProcessingDelay: durationWithDefault(lookup, "STOREFRONT_CHECKOUT_PROCESSING_DELAY", defaultProcessingDelay),
			ShippingMethods: shipping,
		},
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if _, err := strconv.Atoi(cfg.Server.Port); err != nil {
		missing = append(missing, "Server.Port")
	}
	if u, err := url.Parse(cfg.Catalog.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Catalog.BaseURL")
	}
	if cfg.Catalog.CacheTTL < 0 {
		missing = append(missing, "Catalog.CacheTTL")
	}

	switch cfg.Storage.Backend {
	case StorageBackendMemory:
	case StorageBackendSQLite:
		if strings.TrimSpace(cfg.Storage.SQLitePath) == "" {
			missing = append(missing, "Storage.SQLitePath")
		}
	case StorageBackendFirestore:
		if strings.TrimSpace(cfg.Storage.FirestoreProjectID) == "" {
			missing = append(missing, "Storage.FirestoreProjectID")
		}
	default:
		missing = append(missing, "Storage.Backend")
	}

	if cfg.Events.Enabled() {
		if strings.TrimSpace(cfg.Events.ProjectID) == "" {
			missing = append(missing, "Events.ProjectID")
		}
		if strings.TrimSpace(cfg.Events.Subscription) == "" {
			missing = append(missing, "Events.Subscription")
		}
	}

	switch cfg.Fragments.Source {
	case FragmentSourceEmbedded:
	case FragmentSourceDir:
		if strings.TrimSpace(cfg.Fragments.Dir) == "" {
			missing = append(missing, "Fragments.Dir")
		}
	case FragmentSourceHTTP:
		if u, err := url.Parse(cfg.Fragments.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			missing = append(missing, "Fragments.BaseURL")
		}
	case FragmentSourceGCS:
		if strings.TrimSpace(cfg.Fragments.Bucket) == "" {
			missing = append(missing, "Fragments.Bucket")
		}
	default:
		missing = append(missing, "Fragments.Source")
	}

	if cfg.Environment == productionEnvironment && len(cfg.Session.Secret) < minSessionSecretLength {
		missing = append(missing, "Session.Secret")
	}
	if cfg.Search.Limit <= 0 {
		missing = append(missing, "Search.Limit")
	}
	if cfg.Search.Debounce < 0 {
		missing = append(missing, "Search.Debounce")
	}
	if cfg.Checkout.ProcessingDelay < 0 {
		missing = append(missing, "Checkout.ProcessingDelay")
	}
	if len(cfg.Site.SupportedLocales) == 0 {
		missing = append(missing, "Site.SupportedLocales")
	}

	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &ValidationError{fields: missing}
}

// shippingMethods parses "name=price,..." and orders the result by price so the first
// entry is the cheapest (the default selection).
func shippingMethods(raw string) ([]ShippingMethod, error) {
	entries := strings.Split(raw, ",")
	methods := make([]ShippingMethod, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("config: malformed shipping method %q", entry)
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		if name == "" {
			return nil, fmt.Errorf("config: shipping method without a name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("config: duplicate shipping method %q", name)
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("config: invalid price for shipping method %q", name)
		}
		seen[name] = struct{}{}
		methods = append(methods, ShippingMethod{Name: name, Price: price})
	}
	if len(methods) == 0 {
		return nil, errors.New("config: no shipping methods configured")
	}
	sort.SliceStable(methods, func(i, j int) bool { return methods[i].Price < methods[j].Price })
	return methods, nil
}

func normaliseMount(mount string) string {
	mount = strings.TrimSpace(mount)
	if mount == "" || mount == "/" {
		return ""
	}
	return "/" + strings.Trim(mount, "/")
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) (float64, error) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || parsed < 0 || parsed >= 1 {
		return fallback, fmt.Errorf("config: invalid rate %q", value)
	}
	return parsed, nil
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key, fallback string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
