package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/LucianoASousa/imperial-midia-api-v2/internal/api"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/products"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/store"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/twiliowhatsapp"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/util"
	"github.com/LucianoASousa/imperial-midia-api-v2/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for service state data
	DefaultStateDir = "/var/lib/imperial-midia"
	// DefaultFlowDBFileName is the default SQLite database filename for flows
	DefaultFlowDBFileName = "flows.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the WhatsApp session
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	waOpts := buildWhatsAppOptions(flags)
	storeOpts := buildStoreOptions(flags)
	productOpts := buildProductOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping imperial-midia with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(waOpts), "store", len(storeOpts), "products", len(productOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "flow_dsn_set", *flags.flowDSN != "", "api_addr", *flags.apiAddr, "twilio", *flags.useTwilio)
	if err := api.Run(waOpts, storeOpts, productOpts, apiOpts); err != nil {
		slog.Error("imperial-midia failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("imperial-midia exited successfully")
}

// Config holds environment configuration
type Config struct {
	FlowDSN        string
	WhatsAppDSN    string
	DatabaseURL    string
	StateDir       string
	APIAddr        string
	InstanceName   string
	UpMidiAssURL   string
	UpMidiAssKey   string
	UseTwilio      bool
	TwilioSID      string
	TwilioToken    string
	TwilioFromWhat string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	flowDSN      *string
	waDSN        *string
	apiAddr      *string
	instanceName *string
	upmidiassURL *string
	upmidiassKey *string
	useTwilio    *bool
	twilioSID    *string
	twilioToken  *string
	twilioFrom   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		FlowDSN:        os.Getenv("FLOW_DB_DSN"),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("IMPERIAL_MIDIA_STATE_DIR"),
		APIAddr:        os.Getenv("API_ADDR"),
		InstanceName:   os.Getenv("WHATSAPP_INSTANCE_NAME"),
		UpMidiAssURL:   os.Getenv("UPMIDIASS_API_URL"),
		UpMidiAssKey:   os.Getenv("UPMIDIASS_API_KEY"),
		UseTwilio:      util.ParseBoolEnv("USE_TWILIO", false),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromWhat: os.Getenv("TWILIO_FROM_NUMBER"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No IMPERIAL_MIDIA_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// DATABASE_URL covers both stores when the specific DSNs are unset
	if config.FlowDSN == "" {
		config.FlowDSN = config.DatabaseURL
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
	}

	// Fall back to SQLite files in the state directory
	if config.FlowDSN == "" {
		config.FlowDSN = filepath.Join(config.StateDir, DefaultFlowDBFileName)
		slog.Debug("No flow DSN provided, defaulting to SQLite", "sqlite_path", config.FlowDSN)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultWhatsAppDBFileName)
		slog.Debug("No WhatsApp DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	slog.Debug("environment variables loaded",
		"FLOW_DB_DSN_SET", config.FlowDSN != "",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"IMPERIAL_MIDIA_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"UPMIDIASS_API_KEY_SET", config.UpMidiAssKey != "",
		"USE_TWILIO", config.UseTwilio)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for service data (overrides $IMPERIAL_MIDIA_STATE_DIR)"),
		flowDSN:      flag.String("flow-db-dsn", config.FlowDSN, "database DSN for the flow store (overrides $FLOW_DB_DSN or $DATABASE_URL)"),
		waDSN:        flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		instanceName: flag.String("instance-name", config.InstanceName, "WhatsApp instance name (overrides $WHATSAPP_INSTANCE_NAME)"),
		upmidiassURL: flag.String("upmidiass-url", config.UpMidiAssURL, "UpMidiAss catalog API base URL (overrides $UPMIDIASS_API_URL)"),
		upmidiassKey: flag.String("upmidiass-api-key", config.UpMidiAssKey, "UpMidiAss catalog API key (overrides $UPMIDIASS_API_KEY)"),
		useTwilio:    flag.Bool("twilio", config.UseTwilio, "use Twilio as the WhatsApp gateway (overrides $USE_TWILIO)"),
		twilioSID:    flag.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:  flag.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:   flag.String("twilio-from", config.TwilioFromWhat, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"flowDSN_set", *flags.flowDSN != "",
		"waDSN_set", *flags.waDSN != "",
		"apiAddr", *flags.apiAddr,
		"instanceName", *flags.instanceName,
		"useTwilio", *flags.useTwilio)

	// Keep SQLite defaults under the selected state directory
	if *flags.stateDir != config.StateDir {
		if *flags.flowDSN == filepath.Join(config.StateDir, DefaultFlowDBFileName) {
			*flags.flowDSN = filepath.Join(*flags.stateDir, DefaultFlowDBFileName)
		}
		if *flags.waDSN == filepath.Join(config.StateDir, DefaultWhatsAppDBFileName) {
			*flags.waDSN = filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName)
		}
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	for _, dsn := range []string{*flags.flowDSN, *flags.waDSN} {
		if strings.Contains(dsn, "postgres://") || strings.Contains(dsn, "host=") {
			continue
		}
		dir := filepath.Dir(dsn)
		slog.Debug("Creating state directory for file-based database", "state_dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", dir)
			return err
		}
	}
	return nil
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.waDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	return waOpts
}

// buildStoreOptions constructs flow store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.flowDSN != "" {
		if store.DetectDSNType(*flags.flowDSN) == "postgres" {
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.flowDSN))
		} else {
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.flowDSN))
		}
	}
	return storeOpts
}

// buildProductOptions constructs product catalog configuration options
func buildProductOptions(flags Flags) []products.UpMidiAssOption {
	var productOpts []products.UpMidiAssOption
	if *flags.upmidiassURL != "" {
		productOpts = append(productOpts, products.WithUpMidiAssBaseURL(*flags.upmidiassURL))
	}
	if *flags.upmidiassKey != "" {
		productOpts = append(productOpts, products.WithUpMidiAssAPIKey(*flags.upmidiassKey))
	}
	return productOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.instanceName != "" {
		apiOpts = append(apiOpts, api.WithInstanceName(*flags.instanceName))
	}
	if *flags.useTwilio {
		var twOpts []twiliowhatsapp.Option
		if *flags.twilioSID != "" {
			twOpts = append(twOpts, twiliowhatsapp.WithAccountSID(*flags.twilioSID))
		}
		if *flags.twilioToken != "" {
			twOpts = append(twOpts, twiliowhatsapp.WithAuthToken(*flags.twilioToken))
		}
		if *flags.twilioFrom != "" {
			twOpts = append(twOpts, twiliowhatsapp.WithFromWhats(*flags.twilioFrom))
		}
		apiOpts = append(apiOpts, api.WithTwilio(twOpts...))
	}
	return apiOpts
}
