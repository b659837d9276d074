// ABOUTME: init and bootstrap subcommands for first-time setup
// ABOUTME: Writes a config with a random JWT secret and creates the first admin account

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/2389/taskboard-gateway/internal/auth"
	"github.com/2389/taskboard-gateway/internal/config"
	"github.com/2389/taskboard-gateway/internal/store"
)

const configTemplate = `# taskboard-gateway configuration

server:
  grpc_addr: "localhost:50051"
  http_addr: "localhost:8080"

database:
  driver: "sqlite"
  path: %q

auth:
  jwt_secret: %q
  token_ttl: "24h"

realtime:
  project_access: "members"
  send_buffer: 64

notifier:
  enabled: false
  timezone: "Asia/Kolkata"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// writeConfig creates configPath with a fresh secret. It refuses to
// overwrite an existing file.
func writeConfig(configPath, dataPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	secret, err := randomSecret()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(configTemplate, filepath.Join(dataPath, "taskboard.db"), secret)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func runInit(configPath, dataPath string) error {
	if err := writeConfig(configPath, dataPath); err != nil {
		return err
	}
	color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("\nNext:")
	fmt.Println("  taskboard-gateway bootstrap --name \"Your Name\" --email you@example.com")
	return nil
}

type bootstrapArgs struct {
	name     string
	email    string
	password string
}

// parseBootstrapArgs accepts "--flag value" and "--flag=value" forms.
func parseBootstrapArgs(args []string) (bootstrapArgs, error) {
	var out bootstrapArgs
	targets := map[string]*string{
		"--name":     &out.name,
		"--email":    &out.email,
		"--password": &out.password,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return out, fmt.Errorf("unexpected argument: %s", arg)
		}
		flag, value, hasValue := strings.Cut(arg, "=")
		dst, ok := targets[flag]
		if !ok {
			return out, fmt.Errorf("unknown flag: %s", flag)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return out, fmt.Errorf("%s requires a value", flag)
			}
			value = args[i+1]
			i++
		}
		*dst = value
	}

	out.name = strings.TrimSpace(out.name)
	out.email = strings.ToLower(strings.TrimSpace(out.email))
	if out.name == "" {
		return out, errors.New("--name flag is required")
	}
	if len(out.name) > 100 {
		return out, errors.New("name exceeds maximum length of 100 characters")
	}
	if out.email == "" || !strings.Contains(out.email, "@") {
		return out, errors.New("--email must be a valid email address")
	}
	if out.password != "" && len(out.password) < 6 {
		return out, errors.New("password must be at least 6 characters")
	}
	return out, nil
}

type bootstrapResult struct {
	user      *store.User
	password  string
	token     string
	tokenPath string
}

// bootstrap creates the first admin account in the configured database and
// writes a token for it next to the config file.
func bootstrap(ctx context.Context, configPath string, args bootstrapArgs) (*bootstrapResult, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	s, err := store.NewSQLiteStoreWithDriver(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	defer s.Close()

	count, err := s.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting users: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("bootstrap already complete: %d user(s) exist", count)
	}

	password := args.password
	if password == "" {
		if password, err = randomSecret(); err != nil {
			return nil, err
		}
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	user := &store.User{
		ID:           store.NewID(),
		Name:         args.name,
		Email:        args.email,
		PasswordHash: hash,
		Role:         store.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(user.ID, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(token), 0600); err != nil {
		return nil, fmt.Errorf("writing token file: %w", err)
	}

	return &bootstrapResult{user: user, password: password, token: token, tokenPath: tokenPath}, nil
}

func runBootstrap(ctx context.Context, rawArgs []string) error {
	args, err := parseBootstrapArgs(rawArgs)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := writeConfig(configPath, getDataPath()); err != nil {
			return err
		}
		color.New(color.FgGreen).Printf("  ✓ Created config: %s\n", configPath)
	}

	res, err := bootstrap(ctx, configPath, args)
	if err != nil {
		return err
	}
	printBootstrap(os.Stdout, res, args.password == "")
	return nil
}

func printBootstrap(w io.Writer, res *bootstrapResult, showPassword bool) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Fprintln(w)
	green.Fprintln(w, "  Bootstrap complete!")
	fmt.Fprintln(w)
	cyan.Fprintln(w, "  Admin Account")
	cyan.Fprintln(w, "  -------------")
	fmt.Fprintf(w, "  ID:       %s\n", res.user.ID)
	fmt.Fprintf(w, "  Name:     %s\n", res.user.Name)
	fmt.Fprintf(w, "  Email:    %s\n", res.user.Email)
	if showPassword {
		fmt.Fprintf(w, "  Password: %s\n", res.password)
	}
	fmt.Fprintf(w, "  Token:    %s\n", res.tokenPath)
	fmt.Fprintln(w)
}
