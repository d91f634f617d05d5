package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/zenlist/notifier/internal/config"
	"github.com/zenlist/notifier/internal/email"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/pkg/observability"
)

// Sends one message through the configured email transport (resend or SMTP).
func main() {
	to := os.Getenv("CONTACT_EMAIL")
	if len(os.Args) > 1 {
		to = os.Args[1]
	}
	if to == "" {
		log.Fatal("usage: test-send-email <address> (or set CONTACT_EMAIL)")
	}

	cfg, err := config.Load(os.Getenv("ZENLIST_CONFIG"))
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sender, err := email.New(ctx, email.Config{
		Provider:     cfg.Email.Provider,
		From:         cfg.Email.From,
		RedirectTo:   cfg.Email.RedirectTo,
		ResendAPIKey: cfg.Email.ResendAPIKey,
		SMTP:         email.SMTPConfig(cfg.Email.SMTP),
	}, observability.NewLogger("test-send-email").Logger)
	if err != nil {
		log.Fatalf("Email transport unavailable: %v", err)
	}

	html, err := notification.RenderEmailTemplate(notification.TypeCustom, notification.EmailData{
		Heading: "Test Email from ZenList",
		Message: "This is a test email to verify the email transport.",
		Link:    cfg.Assets.AppURL,
	})
	if err != nil {
		log.Fatalf("Failed to render email: %v", err)
	}

	res, err := sender.Send(ctx, to, "Test Email from ZenList", html)
	if err != nil {
		log.Fatalf("Failed to send email: %v", err)
	}
	fmt.Printf("Email result: %s\n", res)
}
