package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"questreward/cmd/internal/passphrase"
	"questreward/crypto"
	"questreward/services/questrewardd"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "keygen" {
		if err := keygen(os.Args[2:]); err != nil {
			log.Fatalf("questrewardd keygen: %v", err)
		}
		return
	}
	if err := questrewardd.Main(questrewardd.WithPassphrase(custodyPassphrase)); err != nil {
		log.Fatalf("questrewardd: %v", err)
	}
}

func custodyPassphrase(envVar string) (string, error) {
	return passphrase.NewSource(envVar, "custody keystore").Get()
}

// keygen writes a fresh custody key to an encrypted keystore and prints the
// custody address that must approve and hold campaign funds.
func keygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", "data/custody.json", "keystore output path")
	passEnv := fs.String("passphrase-env", "QUESTREWARD_KEYSTORE_PASSPHRASE", "environment variable holding the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pass, err := passphrase.NewSource(*passEnv, "custody keystore").Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(*out, key, pass); err != nil {
		return err
	}
	fmt.Printf("custody address %s written to %s\n", key.Address().Hex(), *out)
	return nil
}
