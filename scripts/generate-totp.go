package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp/totp"
)

// Prints the current manufacturer TOTP code, or with -new a fresh secret to
// put in security.manufacturer_totp_secret.
func main() {
	newSecret := flag.Bool("new", false, "generate a new secret")
	flag.Parse()

	if *newSecret {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "verify-backend",
			AccountName: "manufacturer",
		})
		if err != nil {
			fmt.Printf("Error generating TOTP secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret: %s\n", key.Secret())
		fmt.Printf("URL:    %s\n", key.URL())
		return
	}

	secret := os.Getenv("MANUFACTURER_TOTP_SECRET")
	if secret == "" {
		fmt.Println("MANUFACTURER_TOTP_SECRET is not set")
		os.Exit(1)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		fmt.Printf("Error generating TOTP code: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Current TOTP Code: %s\n", code)
	fmt.Printf("Valid for: ~30 seconds\n")
}
