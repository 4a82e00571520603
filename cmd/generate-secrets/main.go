package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/tripmarket/settlement-backend/internal/utils"
	"github.com/tripmarket/settlement-backend/pkg/jwt"
)

func main() {
	opsTTL := flag.Duration("ops-token-ttl", 24*time.Hour, "lifetime of the generated ops service token")
	issuer := flag.String("issuer", jwt.DefaultIssuer, "issuer claim, must match JWT_ISSUER")
	flag.Parse()

	fmt.Println("===========================================")
	fmt.Println("Secret Generator for the settlement backend")
	fmt.Println("===========================================")
	fmt.Println()

	secrets, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	opsToken, err := jwt.NewService(secrets.JWT, *issuer, *opsTTL).GenerateServiceToken(uuid.New(), []string{"ops"})
	if err != nil {
		log.Fatalf("Failed to generate ops token: %v", err)
	}

	fmt.Println("✅ Secrets generated successfully!")
	fmt.Println()
	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", secrets.JWT)
	fmt.Printf("WEBHOOK_PAYMENTS_SECRET=%s\n", secrets.PaymentsWebhook)
	fmt.Printf("WEBHOOK_PARTNER_SECRET=%s\n", secrets.PartnerWebhook)
	fmt.Println()
	fmt.Println("Share each WEBHOOK_*_SECRET with the matching provider only.")
	fmt.Println()
	fmt.Printf("Ops bearer token for /api/v1/ops (valid %s, signed with the JWT_SECRET above):\n", *opsTTL)
	fmt.Println(opsToken)
	fmt.Println()
	fmt.Println("⚠️  IMPORTANT: Keep these secrets safe and never commit them to version control!")
	fmt.Println("===========================================")
}
