// Command qauth-keygen writes an Ed25519 signing key pair and a refresh
// token pepper, plus an env file pointing ConfigFromEnv at them.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/qualisys/qauth"
	"github.com/qualisys/qauth/jwt"
)

func main() {
	var (
		outDir  = flag.String("out", ".", "directory for the generated files")
		keyID   = flag.String("kid", "", "key id; defaults to the current UTC date")
		envFile = flag.String("env", ".env.qauth", "env file name written under -out; empty to skip")
		force   = flag.Bool("force", false, "overwrite existing files")
	)
	flag.Parse()

	if err := run(*outDir, *keyID, *envFile, *force); err != nil {
		fmt.Fprintf(os.Stderr, "qauth-keygen: %v\n", err)
		os.Exit(1)
	}
}

func run(dir, kid, envName string, force bool) error {
	if kid == "" {
		kid = time.Now().UTC().Format("2006-01-02")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	pub, priv, err := jwt.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	privPEM, err := jwt.MarshalPrivateKeyPEM(priv)
	if err != nil {
		return err
	}
	pubPEM, err := jwt.MarshalPublicKeyPEM(pub)
	if err != nil {
		return err
	}

	privPath := filepath.Join(dir, "qauth-"+kid+".key")
	pubPath := filepath.Join(dir, "qauth-"+kid+".pub")
	if err := writeFile(privPath, privPEM, 0o600, force); err != nil {
		return err
	}
	if err := writeFile(pubPath, pubPEM, 0o644, force); err != nil {
		return err
	}
	fmt.Printf("wrote %s and %s (kid %s)\n", privPath, pubPath, kid)

	pepper := make([]byte, 32)
	if _, err := rand.Read(pepper); err != nil {
		return fmt.Errorf("generate pepper: %w", err)
	}

	env := map[string]string{
		qauth.EnvKeyID:          kid,
		qauth.EnvPrivateKeyFile: privPath,
		qauth.EnvPublicKeyFile:  pubPath,
		qauth.EnvRefreshPepper:  base64.StdEncoding.EncodeToString(pepper),
		qauth.EnvProductionMode: "true",
	}
	if envName == "" {
		for k, v := range env {
			fmt.Printf("%s=%s\n", k, v)
		}
		return nil
	}
	envPath := filepath.Join(dir, envName)
	if !force {
		if _, err := os.Stat(envPath); err == nil {
			return fmt.Errorf("%s exists; use -force to overwrite", envPath)
		}
	}
	if err := godotenv.Write(env, envPath); err != nil {
		return fmt.Errorf("write env: %w", err)
	}
	if err := os.Chmod(envPath, 0o600); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", envPath)
	return nil
}

func writeFile(path string, data []byte, perm fs.FileMode, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s exists; use -force to overwrite", path)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
