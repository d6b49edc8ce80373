package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"github.com/evoludigit/pggit"
	"github.com/evoludigit/pggit/core"
	"github.com/evoludigit/pggit/ps"
)

// Version is set at build time via -ldflags
var Version = "dev"

func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault("listen", ":7461")
	v.SetDefault("backend", "memory") // memory, file or sqlite
	v.SetDefault("data_dir", "")
	v.SetDefault("identity.name", "pggit server")
	v.SetDefault("identity.email", "server@pggit.local")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")

	v.SetEnvPrefix("PGGIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func openPersistence(v *viper.Viper) (*ps.Persistence, error) {
	backend := v.GetString("backend")
	dataDir := v.GetString("data_dir")

	switch backend {
	case "memory":
		log.Println("Using memory persistence")
		return ps.NewMemoryPersistence()
	case "file":
		if dataDir == "" {
			return nil, fmt.Errorf("file backend requires data_dir")
		}
		log.Printf("Using file persistence: %s", dataDir)
		return ps.NewFilePersistence(dataDir)
	case "sqlite":
		if dataDir == "" {
			return nil, fmt.Errorf("sqlite backend requires data_dir")
		}
		log.Printf("Using sqlite persistence: %s", dataDir)
		return ps.NewSQLitePersistence(dataDir)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func main() {
	configPath := flag.String("config", "", "Path to config file (yaml/toml/json)")
	listen := flag.String("listen", "", "Listen address, overrides config")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pggit server v%s\n", Version)
		return
	}

	v, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *listen != "" {
		v.Set("listen", *listen)
	}

	persistence, err := openPersistence(v)
	if err != nil {
		log.Fatalf("Failed to initialize persistence: %v", err)
	}
	defer persistence.Close()

	identity := core.Identity{
		Name:  v.GetString("identity.name"),
		Email: v.GetString("identity.email"),
	}
	auth := &AuthConfig{
		Enabled:   v.GetBool("auth.enabled"),
		JWTSecret: v.GetString("auth.jwt_secret"),
		Issuer:    v.GetString("auth.issuer"),
		Audience:  v.GetString("auth.audience"),
	}
	if auth.Enabled && auth.JWTSecret == "" {
		log.Fatal("auth.enabled requires auth.jwt_secret")
	}

	server := NewServer(pggit.Open(persistence), identity, auth)
	if err := server.Start(v.GetString("listen")); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	fmt.Printf("pggit server v%s listening on %s\n", Version, server.Addr())
	fmt.Println("Send one JSON request per line, 'quit' to disconnect")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	server.Stop()
	log.Println("Server stopped")
}
