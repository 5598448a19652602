// Command keytool manages the encrypted settlement authority key file read
// by the settler (ledger.encrypted_key_path).
//
// Usage:
//
//	keytool encrypt -out key.json < secret.b58
//	keytool generate -out key.json
//	keytool pubkey -in key.json
//
// The password is read from SETTLER_LEDGER_KEY_PASSWORD.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/degenbets-settler/internal/crypto"
)

const passwordEnv = "SETTLER_LEDGER_KEY_PASSWORD"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "encrypt":
		err = runEncrypt(os.Args[2:], os.Stdin)
	case "generate":
		err = runGenerate(os.Args[2:])
	case "pubkey":
		err = runPubkey(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool <encrypt|generate|pubkey> [flags]")
	fmt.Fprintf(os.Stderr, "the password is read from %s\n", passwordEnv)
}

func password() (string, error) {
	pw := os.Getenv(passwordEnv)
	if pw == "" {
		return "", fmt.Errorf("%s is not set", passwordEnv)
	}
	return pw, nil
}

// runEncrypt reads a base58 secret key from stdin and writes the encrypted
// key file.
func runEncrypt(args []string, stdin io.Reader) error {
	fs := flag.NewFlagSet("encrypt", flag.ExitOnError)
	out := fs.String("out", "authority.key.json", "output path")
	_ = fs.Parse(args)

	pw, err := password()
	if err != nil {
		return err
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading key from stdin: %w", err)
	}
	return writeEncrypted(strings.TrimSpace(line), pw, *out)
}

// runGenerate creates a fresh authority key and writes it encrypted.
func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	out := fs.String("out", "authority.key.json", "output path")
	_ = fs.Parse(args)

	pw, err := password()
	if err != nil {
		return err
	}
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	return writeEncrypted(key.String(), pw, *out)
}

// runPubkey decrypts a key file and prints its public key.
func runPubkey(args []string) error {
	fs := flag.NewFlagSet("pubkey", flag.ExitOnError)
	in := fs.String("in", "authority.key.json", "encrypted key file")
	_ = fs.Parse(args)

	pw, err := password()
	if err != nil {
		return err
	}
	key, err := crypto.LoadKey(crypto.KeyConfig{EncryptedKeyPath: *in, KeyPassword: pw})
	if err != nil {
		return err
	}
	fmt.Println(key.PublicKey().String())
	return nil
}

func writeEncrypted(b58, pw, path string) error {
	blob, err := crypto.EncryptKey(b58, pw)
	if err != nil {
		return err
	}
	key, err := crypto.ParsePrivateKey(b58)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Printf("wrote %s for authority %s\n", path, key.PublicKey())
	return nil
}
