package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hms/billing/internal/platform/db"
	"github.com/hms/billing/pkg/money"
)

// CatalogueEntry is one service in the default price list.
type CatalogueEntry struct {
	Category string
	Name     string
	Price    float64
}

// Tier multipliers applied to the base price when seeding.
const (
	insuranceFactor = 0.8
	staffFactor     = 0.5
)

// DefaultCatalogue returns the standard price list for a new hospital, in naira.
func DefaultCatalogue() []CatalogueEntry {
	return []CatalogueEntry{
		{"consultation", "General Consultation", 7500},
		{"consultation", "Specialist Consultation", 20000},
		{"consultation", "Emergency Consultation", 35000},
		{"consultation", "Follow-up Visit", 4000},
		{"consultation", "Telemedicine Consultation", 5000},

		{"laboratory", "Complete Blood Count (CBC)", 3000},
		{"laboratory", "Blood Sugar (Fasting)", 1500},
		{"laboratory", "Blood Sugar (Random)", 1200},
		{"laboratory", "Lipid Profile", 5000},
		{"laboratory", "Liver Function Test", 8000},
		{"laboratory", "Kidney Function Test", 7000},
		{"laboratory", "Thyroid Function Test", 10000},
		{"laboratory", "HIV Test", 3000},
		{"laboratory", "Hepatitis B Test", 4000},
		{"laboratory", "Malaria Test", 1500},
		{"laboratory", "X-Ray (Chest)", 8000},
		{"laboratory", "X-Ray (Limb)", 10000},
		{"laboratory", "Ultrasound (Abdomen)", 15000},
		{"laboratory", "Ultrasound (Pregnancy)", 12000},
		{"laboratory", "CT Scan", 75000},
		{"laboratory", "MRI Scan", 120000},
		{"laboratory", "ECG", 5000},
		{"laboratory", "Echocardiogram", 25000},
		{"laboratory", "Urinalysis", 2000},
		{"laboratory", "Stool Analysis", 2500},
		{"laboratory", "Culture & Sensitivity", 8000},
		{"laboratory", "Pregnancy Test", 1500},

		{"pharmacy", "Dispensing Fee", 500},
		{"pharmacy", "Compounding Fee", 1000},
		{"pharmacy", "Injection Administration", 1000},

		{"ward", "General Ward Bed (per day)", 7500},
		{"ward", "Private Room (per day)", 20000},
		{"ward", "ICU Bed (per day)", 75000},
		{"ward", "NICU Bed (per day)", 90000},
		{"ward", "Nursing Care (per day)", 4000},
		{"ward", "Feeding (per day)", 3000},

		{"procedure", "Wound Dressing", 3000},
		{"procedure", "Suturing", 5000},
		{"procedure", "IV Cannulation", 2000},
		{"procedure", "Catheterization", 4000},
		{"procedure", "Nebulization", 2500},
		{"procedure", "Blood Transfusion", 15000},
		{"procedure", "Appendectomy", 250000},
		{"procedure", "Cesarean Section", 300000},
		{"procedure", "Hernia Repair", 200000},
		{"procedure", "Tonsillectomy", 150000},
		{"procedure", "Circumcision", 50000},
		{"procedure", "Dialysis Session", 65000},
		{"procedure", "Physiotherapy Session", 7500},
		{"procedure", "Dental Extraction", 10000},
		{"procedure", "Dental Filling", 15000},

		{"admin", "Registration Fee", 1000},
		{"admin", "Card/Folder Fee", 1000},
		{"admin", "Medical Report", 7500},
		{"admin", "Medical Certificate", 4000},
		{"admin", "Referral Letter", 2000},
		{"admin", "Medical Records Copy (per page)", 500},

		{"emergency", "Emergency Room Fee", 15000},
		{"emergency", "Ambulance Service (Local)", 25000},
		{"emergency", "Ambulance Service (Inter-city)", 50000},
	}
}

// SeedPricing loads the default catalogue into a hospital that has no
// pricing yet. It returns the number of entries created, 0 when the hospital
// was already configured.
func (s *Service) SeedPricing(ctx context.Context, hospitalID string) (int, error) {
	if !db.ValidHospitalID(hospitalID) {
		return 0, fmt.Errorf("invalid hospital id %q", hospitalID)
	}

	created := 0
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.pricing.CountByHospital(ctx, hospitalID)
		if err != nil {
			return fmt.Errorf("count pricing: %w", err)
		}
		if existing > 0 {
			s.logger.Info().Str("hospital_id", hospitalID).Int("existing", existing).Msg("pricing already configured")
			return nil
		}

		now := s.clock()
		for _, entry := range DefaultCatalogue() {
			insurance := money.Scale(entry.Price, insuranceFactor)
			staff := money.Scale(entry.Price, staffFactor)
			desc := fmt.Sprintf("Standard %s service", entry.Category)
			p := &ServicePricing{
				ID:              uuid.New(),
				HospitalID:      hospitalID,
				ServiceCategory: entry.Category,
				ServiceName:     entry.Name,
				BasePrice:       money.Round(entry.Price),
				InsurancePrice:  &insurance,
				StaffPrice:      &staff,
				Description:     &desc,
				IsActive:        true,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.pricing.Create(ctx, p); err != nil {
				return fmt.Errorf("seed %s: %w", entry.Name, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if created > 0 {
		s.logger.Info().Str("hospital_id", hospitalID).Int("created", created).Msg("default pricing seeded")
	}
	return created, nil
}
