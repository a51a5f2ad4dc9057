// Seeds a demo client so the compliance dashboard has something to show.
// Usage (env overrides):
//
//	SEED_CLIENT_NAME="Falcon Trading LLC" SEED_CLIENT_EMAIL=ops@falcon.example
//
// Reads DATABASE_URL via taxdesk/pkg/config.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"taxdesk/internal/repository/postgres"
	"taxdesk/pkg/config"
	"taxdesk/pkg/domain"
	"taxdesk/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("seed-client")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL environment variable is required", nil)
	}

	name := getenv("SEED_CLIENT_NAME", "Falcon Trading LLC")
	email := getenv("SEED_CLIENT_EMAIL", "ops@falcon.example")

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	repo := postgres.NewClientRepository(db)
	ctx := context.Background()

	existing, err := repo.List(ctx)
	if err != nil {
		log.Fatal("List clients failed", map[string]interface{}{"error": err.Error()})
	}
	for _, c := range existing {
		if strings.EqualFold(c.LegalNameEnglish, name) {
			fmt.Printf("OK: client %q already exists (%s)\n", name, c.ID)
			return
		}
	}

	c := demoClient(name, email, time.Now().UTC())
	if err := repo.Create(ctx, c); err != nil {
		log.Fatal("Create client failed", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Seeded client", map[string]interface{}{"client_id": c.ID.String(), "name": name})
	fmt.Printf("OK: client %q seeded (%s)\n", name, c.ID)
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// demoClient has quarterly periods for the current year, a licence expiring
// within the month and one partner whose Emirates ID is about to lapse.
func demoClient(name, email string, now time.Time) *domain.Client {
	year := now.Year()
	periods := make([]domain.TaxPeriod, 0, 4)
	for q := 0; q < 4; q++ {
		start := domain.NewDate(year, time.Month(3*q+1), 1)
		end := domain.DateOf(start.AddDate(0, 3, -1))
		periods = append(periods, domain.TaxPeriod{StartDate: start, EndDate: end})
	}

	licenseExpiry := domain.DateOf(now.AddDate(0, 0, 21))
	idExpiry := domain.DateOf(now.AddDate(0, 0, 45))
	ctDue := domain.NewDate(year, time.September, 30)

	return &domain.Client{
		ID:               uuid.New(),
		LegalNameEnglish: name,
		ContactEmail:     email,
		Status:           domain.ClientStatusActive,
		BusinessInfo: domain.BusinessInfo{
			LicenseNumber:       "CN-1234567",
			LicenseExpiryDate:   &licenseExpiry,
			TRN:                 "100123456700003",
			VATTaxPeriods:       periods,
			CorporateTaxDueDate: &ctDue,
			Emirate:             "Dubai",
		},
		Partners: domain.People{{
			ID:          uuid.New(),
			Name:        "Omar Haddad",
			Nationality: "JO",
			EmiratesID:  &domain.IdentityDocument{Number: "784-1985-1234567-1", ExpiryDate: &idExpiry},
		}},
		Managers:          domain.People{},
		AIExtractedFields: domain.StringList{},
	}
}
