package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/nkiryanov/essaypay/internal/service/auth/tokenmanager"
)

const SecretKeyBytesLen = 32

// Print a fresh SECRET_KEY, or with --token a service token signed by one
func main() {
	if err := run(os.Stdout, os.Getenv, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gensecret: %v\n", err)
		os.Exit(1)
	}
}

func run(out io.Writer, getenv func(string) string, args []string) error {
	fs := pflag.NewFlagSet("gensecret", pflag.ContinueOnError)

	token := fs.StringP("token", "t", "", "Issue service token for the named client instead of a secret key")
	secret := fs.StringP("secret-key", "s", getenv("SECRET_KEY"), "Secret key to sign the token with")
	ttl := fs.Duration("ttl", 0, "Token lifetime, default is used if zero")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *token == "" {
		key, err := newSecretKey()
		if err != nil {
			return fmt.Errorf("error while generating secret key: %w", err)
		}
		_, err = fmt.Fprintln(out, key)
		return err
	}

	tm, err := tokenmanager.New(tokenmanager.Config{SecretKey: *secret, TTL: *ttl})
	if err != nil {
		return err
	}

	issued, err := tm.Issue(*token)
	if err != nil {
		return fmt.Errorf("error while issuing token: %w", err)
	}

	_, err = fmt.Fprintf(out, "%s\n# expires at %s\n", issued.Value, issued.ExpiresAt.Format(time.RFC3339))
	return err
}

func newSecretKey() (string, error) {
	b := make([]byte, SecretKeyBytesLen)

	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
