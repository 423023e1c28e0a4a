// Command hashpw prints an argon2id hash for ENGAGEMENT_DASHBOARD_PASSWORD_HASH.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/angelmondragon/engagement-tracker/pkg/config"
	"github.com/angelmondragon/engagement-tracker/pkg/security"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func main() {
	password := flag.String("password", "", "password to hash; read from stdin when empty")
	flag.Parse()

	_ = godotenv.Load()

	var params config.PasswordConfig
	if err := envconfig.Process(config.EnvPrefix, &params); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load argon2 parameters: %v\n", err)
		os.Exit(1)
	}

	pw := *password
	if pw == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(os.Stderr, "missing password: pass -password or pipe it on stdin")
			os.Exit(1)
		}
		pw = strings.TrimRight(line, "\r\n")
	}

	hash, err := security.HashPassword(pw, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash password: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}
