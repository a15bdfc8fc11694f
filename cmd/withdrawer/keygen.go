package main

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toncenter/examples/internal/config"
	"github.com/toncenter/examples/internal/handlers"
	"github.com/toncenter/examples/internal/keys"
)

var keygenTOTP bool

var keygenCmd = &cobra.Command{
	Use:         "keygen",
	Short:       "Generate a hot wallet seed (and optionally an operator TOTP secret)",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{"config": "none"},
	RunE:        runKeygen,
}

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token [USERNAME]",
	Short: "Sign an operator JWT with the configured admin secret",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAdminToken,
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenTOTP, "totp", false, "also generate an operator TOTP secret")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	kp, err := keys.Generate()
	if err != nil {
		return err
	}

	fmt.Println("============================================================")
	fmt.Printf("seed (HOT_WALLET_SEED): %s\n", base64.StdEncoding.EncodeToString(kp.Seed()))
	fmt.Printf("public key:             %s\n", hex.EncodeToString(kp.PublicKey()))
	fmt.Println("============================================================")

	if keygenTOTP {
		key, err := handlers.GenerateTOTPKey("admin")
		if err != nil {
			return err
		}
		fmt.Printf("totp secret (ADMIN_TOTP_SECRET): %s\n", key.Secret())
		fmt.Printf("otpauth url:                     %s\n", key.URL())
	}
	return nil
}

func runAdminToken(cmd *cobra.Command, args []string) error {
	cfg := config.AppConfig.Admin
	username := cfg.Username
	if len(args) == 1 {
		username = args[0]
	}
	if username == "" {
		username = "admin"
	}

	token, err := handlers.NewAdminAuthHandler(cfg).GenerateToken(username, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
