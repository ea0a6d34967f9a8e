package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/harrylevesque/roombridge/internal/auth"
	"github.com/harrylevesque/roombridge/internal/crypto"
	"github.com/harrylevesque/roombridge/internal/files"
)

func main() {
	fs := pflag.NewFlagSet("genmasterkey", pflag.ExitOnError)
	keyFile := fs.String("out", "master.key", "file to write the hex master key to")
	grantCode := fs.String("hash-grant", "", "print the bcrypt hash of this grant code for the config and exit")
	fs.Parse(os.Args[1:])

	if *grantCode != "" {
		hash, err := auth.HashGrantCode(*grantCode)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error hashing grant code: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	if err := files.WriteMasterKey(*keyFile, crypto.MustRandom(32)); err != nil {
		if os.IsExist(err) {
			fmt.Fprintf(os.Stderr, "Error: %s already exists. Refusing to overwrite.\n", *keyFile)
		} else {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *keyFile, err)
		}
		os.Exit(1)
	}
	fmt.Printf("Master key written to %s\n", *keyFile)
}
