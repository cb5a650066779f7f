package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	dnsPersonasConfigFilename  = "dns_personas.config.json"
	httpPersonasConfigFilename = "http_personas.config.json"
	proxiesConfigFilename      = "proxies.config.json"
	keywordsConfigFilename     = "keywords.config.json"

	DefaultRateLimitDPS            = 10.0
	DefaultRateLimitBurst          = 5
	DefaultHTTPRateLimitDPS        = 5.0
	DefaultHTTPRateLimitBurst      = 3
	DefaultSystemAPIKeyPlaceholder = "SET_A_REAL_KEY_IN_CONFIG_OR_ENV_d9f8s7d9f8s7d9f8"

	DefaultNumWorkers         = 4
	DefaultBatchSize          = 100
	DefaultMaxAttempts        = 3
	DefaultPollIntervalMs     = 1000
	DefaultPollJitterMs       = 250
	DefaultBackoffBaseSeconds = 5
	DefaultBackoffMaxSeconds  = 300
	DefaultStuckJobSeconds    = 300
	DefaultJanitorSeconds     = 60

	DefaultEventBufferSize      = 512
	DefaultSubscriberBufferSize = 256
	DefaultEvictionGraceSeconds = 30
)

type ServerConfig struct {
	Port   string `json:"port"`
	APIKey string `json:"apiKey"`
}

// DatabaseConfig selects the persistence backend. An empty DSN falls back to
// the in-memory store, which is what tests and single-shot runs use.
type DatabaseConfig struct {
	DSN                  string `json:"dsn"`
	LockStalenessSeconds int    `json:"lockStalenessSeconds,omitempty"`
}

func (dc DatabaseConfig) LockStaleness() time.Duration {
	if dc.LockStalenessSeconds <= 0 {
		return time.Duration(DefaultStuckJobSeconds) * time.Second
	}
	return time.Duration(dc.LockStalenessSeconds) * time.Second
}

type LoggingConfig struct {
	Level string `json:"level"`
}

// WorkerConfig is stored in JSON with millisecond/second fields and converted
// to durations for runtime use.
type WorkerConfig struct {
	NumWorkers       int
	PollInterval     time.Duration
	PollJitter       time.Duration
	BatchSize        int
	MaxAttempts      int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration
	StuckJobAge      time.Duration
	JanitorInterval  time.Duration
}

type WorkerConfigJSON struct {
	NumWorkers              int `json:"numWorkers"`
	PollIntervalMs          int `json:"pollIntervalMs"`
	PollJitterMs            int `json:"pollJitterMs"`
	BatchSize               int `json:"batchSize"`
	MaxAttempts             int `json:"maxAttempts"`
	RetryBackoffBaseSeconds int `json:"retryBackoffBaseSeconds"`
	RetryBackoffMaxSeconds  int `json:"retryBackoffMaxSeconds"`
	StuckJobAgeSeconds      int `json:"stuckJobAgeSeconds"`
	JanitorIntervalSeconds  int `json:"janitorIntervalSeconds"`
}

func ConvertJSONToWorkerConfig(jsonCfg WorkerConfigJSON) WorkerConfig {
	cfg := WorkerConfig{
		NumWorkers:       jsonCfg.NumWorkers,
		PollInterval:     time.Duration(jsonCfg.PollIntervalMs) * time.Millisecond,
		PollJitter:       time.Duration(jsonCfg.PollJitterMs) * time.Millisecond,
		BatchSize:        jsonCfg.BatchSize,
		MaxAttempts:      jsonCfg.MaxAttempts,
		RetryBackoffBase: time.Duration(jsonCfg.RetryBackoffBaseSeconds) * time.Second,
		RetryBackoffMax:  time.Duration(jsonCfg.RetryBackoffMaxSeconds) * time.Second,
		StuckJobAge:      time.Duration(jsonCfg.StuckJobAgeSeconds) * time.Second,
		JanitorInterval:  time.Duration(jsonCfg.JanitorIntervalSeconds) * time.Second,
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = DefaultNumWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollIntervalMs * time.Millisecond
	}
	if cfg.PollJitter < 0 {
		cfg.PollJitter = DefaultPollJitterMs * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBackoffBase <= 0 {
		cfg.RetryBackoffBase = DefaultBackoffBaseSeconds * time.Second
	}
	if cfg.RetryBackoffMax <= 0 {
		cfg.RetryBackoffMax = DefaultBackoffMaxSeconds * time.Second
	}
	if cfg.StuckJobAge <= 0 {
		cfg.StuckJobAge = DefaultStuckJobSeconds * time.Second
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = DefaultJanitorSeconds * time.Second
	}
	return cfg
}

func ConvertWorkerConfigToJSON(cfg WorkerConfig) WorkerConfigJSON {
	return WorkerConfigJSON{
		NumWorkers:              cfg.NumWorkers,
		PollIntervalMs:          int(cfg.PollInterval / time.Millisecond),
		PollJitterMs:            int(cfg.PollJitter / time.Millisecond),
		BatchSize:               cfg.BatchSize,
		MaxAttempts:             cfg.MaxAttempts,
		RetryBackoffBaseSeconds: int(cfg.RetryBackoffBase / time.Second),
		RetryBackoffMaxSeconds:  int(cfg.RetryBackoffMax / time.Second),
		StuckJobAgeSeconds:      int(cfg.StuckJobAge / time.Second),
		JanitorIntervalSeconds:  int(cfg.JanitorInterval / time.Second),
	}
}

// BroadcasterConfig sizes the progress event fan-out.
type BroadcasterConfig struct {
	EventBufferSize      int `json:"eventBufferSize"`
	SubscriberBufferSize int `json:"subscriberBufferSize"`
	EvictionGraceSeconds int `json:"evictionGraceSeconds"`
}

func (bc BroadcasterConfig) EvictionGrace() time.Duration {
	if bc.EvictionGraceSeconds <= 0 {
		return DefaultEvictionGraceSeconds * time.Second
	}
	return time.Duration(bc.EvictionGraceSeconds) * time.Second
}

type DNSValidatorConfig struct {
	Resolvers                  []string
	UseSystemResolvers         bool
	QueryTimeout               time.Duration
	ResolverStrategy           string
	ResolversWeighted          map[string]int
	ResolversPreferredOrder    []string
	ConcurrentQueriesPerDomain int
	QueryDelayMin              time.Duration
	QueryDelayMax              time.Duration
	MaxConcurrentGoroutines    int
	RateLimitDPS               float64
	RateLimitBurst             int
}

type DNSValidatorConfigJSON struct {
	Resolvers                  []string       `json:"resolvers"`
	UseSystemResolvers         bool           `json:"useSystemResolvers"`
	QueryTimeoutSeconds        int            `json:"queryTimeoutSeconds"`
	ResolverStrategy           string         `json:"resolverStrategy,omitempty"`
	ResolversWeighted          map[string]int `json:"resolversWeighted,omitempty"`
	ResolversPreferredOrder    []string       `json:"resolversPreferredOrder,omitempty"`
	ConcurrentQueriesPerDomain int            `json:"concurrentQueriesPerDomain,omitempty"`
	QueryDelayMinMs            int            `json:"queryDelayMinMs,omitempty"`
	QueryDelayMaxMs            int            `json:"queryDelayMaxMs,omitempty"`
	MaxConcurrentGoroutines    int            `json:"maxConcurrentGoroutines,omitempty"`
	RateLimitDPS               float64        `json:"rateLimitDps,omitempty"`
	RateLimitBurst             int            `json:"rateLimitBurst,omitempty"`
}

func ConvertJSONToDNSConfig(jsonCfg DNSValidatorConfigJSON) DNSValidatorConfig {
	cfg := DNSValidatorConfig{
		Resolvers:                  jsonCfg.Resolvers,
		UseSystemResolvers:         jsonCfg.UseSystemResolvers,
		QueryTimeout:               time.Duration(jsonCfg.QueryTimeoutSeconds) * time.Second,
		ResolverStrategy:           jsonCfg.ResolverStrategy,
		ResolversWeighted:          jsonCfg.ResolversWeighted,
		ResolversPreferredOrder:    jsonCfg.ResolversPreferredOrder,
		ConcurrentQueriesPerDomain: jsonCfg.ConcurrentQueriesPerDomain,
		QueryDelayMin:              time.Duration(jsonCfg.QueryDelayMinMs) * time.Millisecond,
		QueryDelayMax:              time.Duration(jsonCfg.QueryDelayMaxMs) * time.Millisecond,
		MaxConcurrentGoroutines:    jsonCfg.MaxConcurrentGoroutines,
		RateLimitDPS:               jsonCfg.RateLimitDPS,
		RateLimitBurst:             jsonCfg.RateLimitBurst,
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	if cfg.ResolverStrategy == "" {
		cfg.ResolverStrategy = "random_rotation"
	}
	if cfg.ConcurrentQueriesPerDomain <= 0 {
		cfg.ConcurrentQueriesPerDomain = 1
	}
	if cfg.MaxConcurrentGoroutines <= 0 {
		cfg.MaxConcurrentGoroutines = 10
	}
	if cfg.RateLimitDPS <= 0 {
		cfg.RateLimitDPS = DefaultRateLimitDPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = DefaultRateLimitBurst
	}
	return cfg
}

func ConvertDNSConfigToJSON(cfg DNSValidatorConfig) DNSValidatorConfigJSON {
	return DNSValidatorConfigJSON{
		Resolvers:                  cfg.Resolvers,
		UseSystemResolvers:         cfg.UseSystemResolvers,
		QueryTimeoutSeconds:        int(cfg.QueryTimeout / time.Second),
		ResolverStrategy:           cfg.ResolverStrategy,
		ResolversWeighted:          cfg.ResolversWeighted,
		ResolversPreferredOrder:    cfg.ResolversPreferredOrder,
		ConcurrentQueriesPerDomain: cfg.ConcurrentQueriesPerDomain,
		QueryDelayMinMs:            int(cfg.QueryDelayMin / time.Millisecond),
		QueryDelayMaxMs:            int(cfg.QueryDelayMax / time.Millisecond),
		MaxConcurrentGoroutines:    cfg.MaxConcurrentGoroutines,
		RateLimitDPS:               cfg.RateLimitDPS,
		RateLimitBurst:             cfg.RateLimitBurst,
	}
}

type HTTPValidatorConfig struct {
	UserAgents              []string
	DefaultHeaders          map[string]string
	RequestTimeout          time.Duration
	MaxRedirects            int
	AllowInsecureTLS        bool
	MaxConcurrentGoroutines int
	RateLimitDPS            float64
	RateLimitBurst          int
}

type HTTPValidatorConfigJSON struct {
	UserAgents              []string          `json:"userAgents"`
	DefaultHeaders          map[string]string `json:"defaultHeaders"`
	RequestTimeoutSeconds   int               `json:"requestTimeoutSeconds"`
	MaxRedirects            int               `json:"maxRedirects"`
	AllowInsecureTLS        bool              `json:"allowInsecureTLS"`
	MaxConcurrentGoroutines int               `json:"maxConcurrentGoroutines,omitempty"`
	RateLimitDPS            float64           `json:"rateLimitDps,omitempty"`
	RateLimitBurst          int               `json:"rateLimitBurst,omitempty"`
}

func ConvertJSONToHTTPConfig(jsonCfg HTTPValidatorConfigJSON) HTTPValidatorConfig {
	cfg := HTTPValidatorConfig{
		UserAgents:              jsonCfg.UserAgents,
		DefaultHeaders:          jsonCfg.DefaultHeaders,
		RequestTimeout:          time.Duration(jsonCfg.RequestTimeoutSeconds) * time.Second,
		MaxRedirects:            jsonCfg.MaxRedirects,
		AllowInsecureTLS:        jsonCfg.AllowInsecureTLS,
		MaxConcurrentGoroutines: jsonCfg.MaxConcurrentGoroutines,
		RateLimitDPS:            jsonCfg.RateLimitDPS,
		RateLimitBurst:          jsonCfg.RateLimitBurst,
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxConcurrentGoroutines <= 0 {
		cfg.MaxConcurrentGoroutines = 15
	}
	if cfg.RateLimitDPS <= 0 {
		cfg.RateLimitDPS = DefaultHTTPRateLimitDPS
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = DefaultHTTPRateLimitBurst
	}
	return cfg
}

func ConvertHTTPConfigToJSON(cfg HTTPValidatorConfig) HTTPValidatorConfigJSON {
	return HTTPValidatorConfigJSON{
		UserAgents:              cfg.UserAgents,
		DefaultHeaders:          cfg.DefaultHeaders,
		RequestTimeoutSeconds:   int(cfg.RequestTimeout / time.Second),
		MaxRedirects:            cfg.MaxRedirects,
		AllowInsecureTLS:        cfg.AllowInsecureTLS,
		MaxConcurrentGoroutines: cfg.MaxConcurrentGoroutines,
		RateLimitDPS:            cfg.RateLimitDPS,
		RateLimitBurst:          cfg.RateLimitBurst,
	}
}

type DNSPersona struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Config      DNSValidatorConfigJSON `json:"config"`
}

type TLSClientHelloConfig struct {
	MinVersion       string   `json:"minVersion,omitempty"`
	MaxVersion       string   `json:"maxVersion,omitempty"`
	CipherSuites     []string `json:"cipherSuites,omitempty"`
	CurvePreferences []string `json:"curvePreferences,omitempty"`
}

type HTTPPersona struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Description    string               `json:"description"`
	UserAgent      string               `json:"userAgent"`
	Headers        map[string]string    `json:"headers"`
	HeaderOrder    []string             `json:"headerOrder,omitempty"`
	TLSClientHello TLSClientHelloConfig `json:"tlsClientHello,omitempty"`
	Notes          string               `json:"notes,omitempty"`
	RateLimitDPS   float64              `json:"rateLimitDps,omitempty"`
	RateLimitBurst int                  `json:"rateLimitBurst,omitempty"`
}

type ProxyConfigEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Protocol    string `json:"protocol"`
	Address     string `json:"address"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	Notes       string `json:"notes,omitempty"`
	UserEnabled *bool  `json:"userEnabled,omitempty"`
}

// Enabled reports whether the proxy should be used. Absent means enabled.
func (p ProxyConfigEntry) Enabled() bool {
	return p.UserEnabled == nil || *p.UserEnabled
}

// KeywordRule is a single extraction rule. Type is "string" or "regex";
// CompiledRegex is populated at load time for regex rules.
type KeywordRule struct {
	ID            string         `json:"id,omitempty"`
	Pattern       string         `json:"pattern"`
	Type          string         `json:"type"`
	CaseSensitive bool           `json:"caseSensitive"`
	Category      string         `json:"category,omitempty"`
	ContextChars  int            `json:"contextChars,omitempty"`
	CompiledRegex *regexp.Regexp `json:"-"`
}

// KeywordSet groups related keyword rules.
type KeywordSet struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Rules       []KeywordRule `json:"rules"`
}

type AppConfig struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Worker        WorkerConfig
	Broadcaster   BroadcasterConfig
	DNSValidator  DNSValidatorConfig
	HTTPValidator HTTPValidatorConfig
	Logging       LoggingConfig

	DNSPersonas  []DNSPersona
	HTTPPersonas []HTTPPersona
	Proxies      []ProxyConfigEntry
	KeywordSets  []KeywordSet

	loadedFromPath string
}

func (ac *AppConfig) GetLoadedFromPath() string { return ac.loadedFromPath }

// GetKeywordSet looks up a keyword set by ID.
func (ac *AppConfig) GetKeywordSet(id string) (*KeywordSet, bool) {
	for i := range ac.KeywordSets {
		if ac.KeywordSets[i].ID == id {
			return &ac.KeywordSets[i], true
		}
	}
	return nil, false
}

// GetHTTPPersona looks up an HTTP persona by ID.
func (ac *AppConfig) GetHTTPPersona(id string) (*HTTPPersona, bool) {
	for i := range ac.HTTPPersonas {
		if ac.HTTPPersonas[i].ID == id {
			return &ac.HTTPPersonas[i], true
		}
	}
	return nil, false
}

// GetDNSPersona looks up a DNS persona by ID.
func (ac *AppConfig) GetDNSPersona(id string) (*DNSPersona, bool) {
	for i := range ac.DNSPersonas {
		if ac.DNSPersonas[i].ID == id {
			return &ac.DNSPersonas[i], true
		}
	}
	return nil, false
}

type AppConfigJSON struct {
	Server        ServerConfig            `json:"server"`
	Database      DatabaseConfig          `json:"database"`
	Worker        WorkerConfigJSON        `json:"worker"`
	Broadcaster   BroadcasterConfig       `json:"broadcaster"`
	DNSValidator  DNSValidatorConfigJSON  `json:"dnsValidator"`
	HTTPValidator HTTPValidatorConfigJSON `json:"httpValidator"`
	Logging       LoggingConfig           `json:"logging"`
}

func LoadDNSPersonas(configDir string) ([]DNSPersona, error) {
	filePath := filepath.Join(configDir, dnsPersonasConfigFilename)
	var personas []DNSPersona
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config: DNS Personas config file '%s' not found.", filePath)
			return personas, nil
		}
		return nil, fmt.Errorf("failed to read DNS Personas config: %w", err)
	}
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("error unmarshalling DNS Personas: %w", err)
	}
	log.Printf("Config: Loaded %d DNS Personas from '%s'", len(personas), filePath)
	return personas, nil
}

func LoadHTTPPersonas(configDir string) ([]HTTPPersona, error) {
	filePath := filepath.Join(configDir, httpPersonasConfigFilename)
	var personas []HTTPPersona
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config: HTTP Personas config file '%s' not found.", filePath)
			return personas, nil
		}
		return nil, fmt.Errorf("failed to read HTTP Personas config: %w", err)
	}
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("error unmarshalling HTTP Personas: %w", err)
	}
	log.Printf("Config: Loaded %d HTTP Personas from '%s'", len(personas), filePath)
	return personas, nil
}

func LoadProxies(configDir string) ([]ProxyConfigEntry, error) {
	filePath := filepath.Join(configDir, proxiesConfigFilename)
	var proxies []ProxyConfigEntry
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config: Proxies config file '%s' not found. No pre-defined proxies will be loaded.", filePath)
			return proxies, nil
		}
		return nil, fmt.Errorf("failed to read Proxies config file '%s': %w", filePath, err)
	}
	if err := json.Unmarshal(data, &proxies); err != nil {
		return nil, fmt.Errorf("error unmarshalling Proxies config file '%s': %w", filePath, err)
	}
	for i := range proxies {
		if proxies[i].UserEnabled == nil {
			enabled := true
			proxies[i].UserEnabled = &enabled
		}
	}
	log.Printf("Config: Loaded %d Proxies from '%s'", len(proxies), filePath)
	return proxies, nil
}

// LoadKeywordSets loads keyword definitions and pre-compiles regex rules.
// Rules that fail to compile are logged and skipped, not fatal.
func LoadKeywordSets(configDir string) ([]KeywordSet, error) {
	filePath := filepath.Join(configDir, keywordsConfigFilename)
	var keywordSets []KeywordSet
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config: Keyword Sets config file '%s' not found. No keyword sets will be loaded.", filePath)
			return keywordSets, nil
		}
		return nil, fmt.Errorf("failed to read Keyword Sets config file '%s': %w", filePath, err)
	}
	if err := json.Unmarshal(data, &keywordSets); err != nil {
		return nil, fmt.Errorf("error unmarshalling Keyword Sets from '%s': %w", filePath, err)
	}

	for i, ks := range keywordSets {
		for j, rule := range ks.Rules {
			if strings.ToLower(rule.Type) == "regex" {
				if rule.Pattern == "" {
					log.Printf("Config Warning: Keyword set '%s', rule '%s' is regex with empty pattern. Skipping compilation.", ks.ID, rule.ID)
					continue
				}
				patternToCompile := rule.Pattern
				if !rule.CaseSensitive {
					patternToCompile = "(?i)" + rule.Pattern
				}
				compiled, err := regexp.Compile(patternToCompile)
				if err != nil {
					log.Printf("Config Warning: Failed to compile regex for keyword set '%s', rule '%s' (pattern '%s'): %v. Rule skipped.", ks.ID, rule.ID, rule.Pattern, err)
					keywordSets[i].Rules[j].CompiledRegex = nil
				} else {
					keywordSets[i].Rules[j].CompiledRegex = compiled
				}
			} else if strings.ToLower(rule.Type) != "string" {
				log.Printf("Config Warning: Keyword set '%s', rule '%s' has unknown type '%s'.", ks.ID, rule.ID, rule.Type)
			}
		}
	}

	log.Printf("Config: Loaded %d Keyword Sets from '%s'", len(keywordSets), filePath)
	return keywordSets, nil
}

// Load reads the main config file, falling back to defaults when it is
// missing, then loads the supplemental persona, proxy and keyword files from
// the same directory.
func Load(mainConfigPath string) (*AppConfig, error) {
	if mainConfigPath == "" {
		mainConfigPath = "config.json"
		log.Printf("Config: Main config path empty, using default: %s", mainConfigPath)
	}
	log.Printf("Config: Attempting to load main config from: %s", mainConfigPath)

	appCfgJSON := DefaultAppConfigJSON()
	var originalLoadError error

	data, err := os.ReadFile(mainConfigPath)
	if err != nil {
		originalLoadError = err
		if os.IsNotExist(err) {
			log.Printf("Config: Main config file '%s' not found. Using defaults and attempting to save.", mainConfigPath)
			if saveErr := SaveStructured(appCfgJSON, mainConfigPath); saveErr != nil {
				log.Printf("Config: Failed to save default config file '%s': %v", mainConfigPath, saveErr)
			} else {
				log.Printf("Config: Saved default config to '%s'", mainConfigPath)
			}
		} else {
			log.Printf("Config: Error reading main config '%s': %v. Using defaults.", mainConfigPath, err)
		}
	} else {
		if errUnmarshal := json.Unmarshal(data, &appCfgJSON); errUnmarshal != nil {
			log.Printf("Config: Error unmarshalling main config '%s': %v. Using defaults for unparsed fields.", mainConfigPath, errUnmarshal)
			originalLoadError = errUnmarshal
		}
	}

	appConfig := ConvertJSONToAppConfig(appCfgJSON)
	appConfig.loadedFromPath = mainConfigPath

	configDir := filepath.Dir(mainConfigPath)
	if filepath.Base(mainConfigPath) == mainConfigPath {
		if cwd, errCwd := os.Getwd(); errCwd == nil {
			configDir = cwd
		} else {
			log.Printf("Config Warning: Could not get CWD for supplemental configs: %v.", errCwd)
		}
	}

	var loadErr error

	appConfig.DNSPersonas, loadErr = LoadDNSPersonas(configDir)
	if loadErr != nil {
		log.Printf("Config Notice: Error loading DNS Personas, proceeding with empty list: %v", loadErr)
		appConfig.DNSPersonas = []DNSPersona{}
	}

	appConfig.HTTPPersonas, loadErr = LoadHTTPPersonas(configDir)
	if loadErr != nil {
		log.Printf("Config Notice: Error loading HTTP Personas, proceeding with empty list: %v", loadErr)
		appConfig.HTTPPersonas = []HTTPPersona{}
	}

	appConfig.Proxies, loadErr = LoadProxies(configDir)
	if loadErr != nil {
		log.Printf("Config Warning: Failed to load Proxies from file: %v. Proxy list will be empty.", loadErr)
		appConfig.Proxies = []ProxyConfigEntry{}
	}

	appConfig.KeywordSets, loadErr = LoadKeywordSets(configDir)
	if loadErr != nil {
		log.Printf("Config Notice: Error loading Keyword Sets, proceeding with empty list: %v", loadErr)
		appConfig.KeywordSets = []KeywordSet{}
	}

	return appConfig, originalLoadError
}

func ConvertJSONToAppConfig(jsonCfg AppConfigJSON) *AppConfig {
	return &AppConfig{
		Server:        jsonCfg.Server,
		Database:      jsonCfg.Database,
		Worker:        ConvertJSONToWorkerConfig(jsonCfg.Worker),
		Broadcaster:   jsonCfg.Broadcaster,
		DNSValidator:  ConvertJSONToDNSConfig(jsonCfg.DNSValidator),
		HTTPValidator: ConvertJSONToHTTPConfig(jsonCfg.HTTPValidator),
		Logging:       jsonCfg.Logging,
	}
}

func ConvertAppConfigToJSON(appCfg *AppConfig) AppConfigJSON {
	return AppConfigJSON{
		Server:        appCfg.Server,
		Database:      appCfg.Database,
		Worker:        ConvertWorkerConfigToJSON(appCfg.Worker),
		Broadcaster:   appCfg.Broadcaster,
		DNSValidator:  ConvertDNSConfigToJSON(appCfg.DNSValidator),
		HTTPValidator: ConvertHTTPConfigToJSON(appCfg.HTTPValidator),
		Logging:       appCfg.Logging,
	}
}

func Save(cfg *AppConfig, filePath string) error {
	if filePath == "" {
		return fmt.Errorf("cannot save config, file path is empty")
	}
	return SaveStructured(ConvertAppConfigToJSON(cfg), filePath)
}

func SaveStructured(cfgJSON AppConfigJSON, filePath string) error {
	if filePath == "" {
		return fmt.Errorf("cannot save structured config, file path is empty")
	}
	data, err := json.MarshalIndent(cfgJSON, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal app config JSON to data: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write app config to file '%s': %w", filePath, err)
	}
	log.Printf("Config: Successfully saved main configuration to '%s'", filePath)
	return nil
}

func DefaultAppConfigJSON() AppConfigJSON {
	return AppConfigJSON{
		Server: ServerConfig{
			Port:   "8080",
			APIKey: DefaultSystemAPIKeyPlaceholder,
		},
		Database: DatabaseConfig{
			DSN:                  "",
			LockStalenessSeconds: DefaultStuckJobSeconds,
		},
		Worker: WorkerConfigJSON{
			NumWorkers:              DefaultNumWorkers,
			PollIntervalMs:          DefaultPollIntervalMs,
			PollJitterMs:            DefaultPollJitterMs,
			BatchSize:               DefaultBatchSize,
			MaxAttempts:             DefaultMaxAttempts,
			RetryBackoffBaseSeconds: DefaultBackoffBaseSeconds,
			RetryBackoffMaxSeconds:  DefaultBackoffMaxSeconds,
			StuckJobAgeSeconds:      DefaultStuckJobSeconds,
			JanitorIntervalSeconds:  DefaultJanitorSeconds,
		},
		Broadcaster: BroadcasterConfig{
			EventBufferSize:      DefaultEventBufferSize,
			SubscriberBufferSize: DefaultSubscriberBufferSize,
			EvictionGraceSeconds: DefaultEvictionGraceSeconds,
		},
		DNSValidator: DNSValidatorConfigJSON{
			Resolvers:                  []string{"1.1.1.1:53", "8.8.8.8:53"},
			UseSystemResolvers:         false,
			QueryTimeoutSeconds:        5,
			ResolverStrategy:           "random_rotation",
			ConcurrentQueriesPerDomain: 1,
			QueryDelayMinMs:            0,
			QueryDelayMaxMs:            50,
			MaxConcurrentGoroutines:    10,
			RateLimitDPS:               DefaultRateLimitDPS,
			RateLimitBurst:             DefaultRateLimitBurst,
		},
		HTTPValidator: HTTPValidatorConfigJSON{
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			},
			DefaultHeaders:        map[string]string{"Accept-Language": "en-US,en;q=0.9"},
			RequestTimeoutSeconds: 15,
			MaxRedirects:          7,
			AllowInsecureTLS:      false,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
	}
}

func DefaultConfig() *AppConfig { return ConvertJSONToAppConfig(DefaultAppConfigJSON()) }

var tlsVersionMap = map[string]uint16{
	"TLS10": tls.VersionTLS10,
	"TLS11": tls.VersionTLS11,
	"TLS12": tls.VersionTLS12,
	"TLS13": tls.VersionTLS13,
}

var supportedCipherSuites = map[string]uint16{
	"TLS_AES_128_GCM_SHA256":                        tls.TLS_AES_128_GCM_SHA256,
	"TLS_AES_256_GCM_SHA384":                        tls.TLS_AES_256_GCM_SHA384,
	"TLS_CHACHA20_POLY1305_SHA256":                  tls.TLS_CHACHA20_POLY1305_SHA256,
	"TLS_RSA_WITH_AES_128_CBC_SHA":                  tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	"TLS_RSA_WITH_AES_256_CBC_SHA":                  tls.TLS_RSA_WITH_AES_256_CBC_SHA,
	"TLS_RSA_WITH_AES_128_GCM_SHA256":               tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_RSA_WITH_AES_256_GCM_SHA384":               tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA":          tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	"TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA":          tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
	"TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA":            tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	"TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA":            tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":         tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256":       tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":         tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384":       tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256":   tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	"TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256": tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
}

var curvePreferenceMap = map[string]tls.CurveID{
	"CurveP256": tls.CurveP256,
	"CurveP384": tls.CurveP384,
	"CurveP521": tls.CurveP521,
	"X25519":    tls.X25519,
}

func GetTLSVersion(versionStr string) (uint16, bool) {
	version, ok := tlsVersionMap[strings.ToUpper(versionStr)]
	return version, ok
}

func GetCipherSuites(suiteNames []string) ([]uint16, error) {
	var suites []uint16
	for _, name := range suiteNames {
		suiteID, ok := supportedCipherSuites[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("unsupported cipher suite: %s", name)
		}
		suites = append(suites, suiteID)
	}
	return suites, nil
}

func GetCurvePreferences(curveNames []string) ([]tls.CurveID, error) {
	var curves []tls.CurveID
	for _, name := range curveNames {
		curveID, ok := curvePreferenceMap[name]
		if !ok {
			return nil, fmt.Errorf("unsupported curve preference: %s", name)
		}
		curves = append(curves, curveID)
	}
	return curves, nil
}
