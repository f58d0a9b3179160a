package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/service"
	"golang.org/x/term"
)

// issue-token signs a token the way the school platform's identity service
// would, so the engine can be exercised without it.
func main() {
	var (
		kind   string
		userID int
		perms  string
		expiry time.Duration
		prompt bool
	)
	flag.StringVar(&kind, "type", "student", "Token type: student or admin")
	flag.IntVar(&userID, "user", 0, "Student or admin id")
	flag.StringVar(&perms, "perms", "", "Comma-separated admin permissions, e.g. cbt:grade,cbt:report")
	flag.DurationVar(&expiry, "expiry", 0, "Token lifetime (defaults to JWT_EXPIRY_HOURS)")
	flag.BoolVar(&prompt, "prompt-secret", false, "Read the signing secret from the terminal instead of config")
	flag.Parse()

	if userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		os.Exit(2)
	}

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	if expiry > 0 {
		cfg.JWTExpiry = expiry
	}

	if prompt {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: -prompt-secret needs an interactive terminal")
			os.Exit(2)
		}
		fmt.Fprint(os.Stderr, "JWT secret: ")
		secret, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error reading secret")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}
	if cfg.JWTSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: JWT secret is empty")
		os.Exit(2)
	}

	auth := service.NewAuthService(cfg)

	var (
		token string
		err   error
	)
	switch service.TokenType(kind) {
	case service.TokenTypeStudent:
		token, err = auth.GenerateStudentToken(userID)
	case service.TokenTypeAdmin:
		token, err = auth.GenerateAdminToken(userID, splitPerms(perms))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown token type %q\n", kind)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

func splitPerms(raw string) []string {
	var out []string
	for p := range strings.SplitSeq(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
