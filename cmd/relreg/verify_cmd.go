package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/Mindburn-Labs/release-registry/pkg/api"
	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
	"github.com/Mindburn-Labs/release-registry/pkg/registrar"
)

// runVerifyCmd implements `relreg verify`.
//
// Hashes a local file and asks the registry whether it matches the ledger
// record for the release.
//
// Exit codes:
//
//	0 = file matches an ACTIVE release
//	1 = mismatch, unknown or discontinued release
//	2 = usage or runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		serverURL  string
		packageID  string
		versionArg string
		file       string
		token      string
		jsonOutput bool
	)
	cmd.StringVar(&serverURL, "server", "http://localhost:8080", "Registry base URL")
	cmd.StringVar(&packageID, "package", "", "Package identifier (REQUIRED)")
	cmd.StringVar(&versionArg, "version", "", "Release version (REQUIRED)")
	cmd.StringVar(&file, "file", "", "Path to the artifact to check (REQUIRED)")
	cmd.StringVar(&token, "token", os.Getenv("RELREG_TOKEN"), "API bearer token")
	cmd.BoolVar(&jsonOutput, "json", false, "Output the result as JSON")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if packageID == "" || versionArg == "" || file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --package, --version and --file are required")
		return 2
	}

	data, err := os.ReadFile(file) //nolint:gosec // operator-supplied path
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	res, err := requestValidation(serverURL, token, packageID, versionArg, data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if local := crypto.NewSHA256Hasher().Digest(data); res.ActualHash != "" && !crypto.EqualDigest(local, res.ActualHash) {
		_, _ = fmt.Fprintf(stderr, "Error: server hashed %s but local hash is %s\n", res.ActualHash, local)
		return 2
	}

	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else {
		printVerification(stdout, res)
	}
	if !res.Valid {
		return 1
	}
	return 0
}

func requestValidation(serverURL, token, packageID, ver string, data []byte) (*registrar.ValidationResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", packageID+"-"+ver)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	endpoint := serverURL + "/api/v1/packages/" + url.PathEscape(packageID) + "/versions/" + url.PathEscape(ver) + "/validate"
	req, err := http.NewRequest(http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("validate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, fmt.Errorf("registry rejected validation: %w", api.ParseProblem(resp.StatusCode, body))
	}

	var res registrar.ValidationResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode validation result: %w", err)
	}
	return &res, nil
}

func printVerification(w io.Writer, res *registrar.ValidationResult) {
	key := res.PackageID + ":" + res.Version
	switch {
	case res.Valid:
		fmt.Fprintf(w, "%s✓ %s verified%s\n", ColorBold+ColorGreen, key, ColorReset)
	case !res.Found:
		fmt.Fprintf(w, "%s✗ %s is not on the ledger%s\n", ColorBold+ColorRed, key, ColorReset)
	default:
		fmt.Fprintf(w, "%s✗ %s failed verification%s\n", ColorBold+ColorRed, key, ColorReset)
	}
	fmt.Fprintf(w, "  actual:   %s\n", res.ActualHash)
	if res.Found {
		fmt.Fprintf(w, "  expected: %s\n", res.ExpectedHash)
		fmt.Fprintf(w, "  status:   %s\n", res.Status)
	}
}
