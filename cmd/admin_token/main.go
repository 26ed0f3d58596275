package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	httpMW "github.com/yungbote/copilot-adoption-backend/internal/http/middleware"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
)

// Prints a short-lived admin bearer token signed with ADMIN_JWT_SECRET.
func main() {
	var subject string
	var ttl time.Duration
	flag.StringVar(&subject, "subject", "", "operator identity recorded in request logs")
	flag.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := envutil.String("ADMIN_JWT_SECRET", "")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET is not set")
		os.Exit(2)
	}
	if subject == "" {
		fmt.Fprintln(os.Stderr, "-subject is required")
		os.Exit(2)
	}
	tok, err := httpMW.IssueAdminToken(secret, subject, ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
