// Command hashtoken prints the bcrypt hash of a token for the static
// auth credential list in the config file.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chessmate/backend/internal/auth"
)

func main() {
	flag.Parse()
	token := flag.Arg(0)
	if token == "" {
		fmt.Fprintln(os.Stderr, "usage: hashtoken <token>")
		os.Exit(2)
	}

	hash, err := auth.HashToken(token)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
