package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/auth"
	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
)

// runHashCmd prints the content hash the registry would record for a file.
func runHashCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("hash", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	file := cmd.String("file", "", "Path to the file to hash (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --file is required")
		return 2
	}

	f, err := os.Open(*file) //nolint:gosec // operator-supplied path
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer f.Close()

	sum, n, err := crypto.NewSHA256Hasher().DigestReader(f)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintf(stdout, "%s  %d  %s\n", sum, n, *file)
	return 0
}

// runTokenCmd mints an API token signed with JWT_SECRET.
func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	sub := cmd.String("sub", "", "Token subject, the publisher identity (REQUIRED)")
	email := cmd.String("email", "", "Email used for subscriptions")
	admin := cmd.Bool("admin", false, "Grant the admin role")
	ttl := cmd.Duration("ttl", 24*time.Hour, "Token lifetime")
	issuer := cmd.String("issuer", envOr("JWT_ISSUER", "relreg"), "Token issuer")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	validator, err := auth.NewJWTValidator([]byte(os.Getenv("JWT_SECRET")), *issuer)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: JWT_SECRET: %v\n", err)
		return 2
	}
	var roles []string
	if *admin {
		roles = []string{auth.RoleAdmin}
	}
	token, err := validator.Issue(*sub, *email, roles, *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	_, _ = fmt.Fprintln(stdout, token)
	return 0
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
