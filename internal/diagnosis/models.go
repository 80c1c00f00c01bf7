package diagnosis

import (
	"time"

	"github.com/suPer8Hu/pharmacy-platform/internal/catalog"
)

type Diagnosis struct {
	ID              uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          uint64            `gorm:"index;not null" json:"-"`
	Symptoms        string            `gorm:"type:text;not null" json:"symptoms"`
	DiagnosisText   string            `gorm:"type:text;not null" json:"diagnosis"`
	Recommendations []RecommendedDrug `gorm:"foreignKey:DiagnosisID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (Diagnosis) TableName() string { return "diagnoses" }

// RecommendedDrug is the pivot between a diagnosis and a catalog drug. The
// composite key makes a drug appear at most once per diagnosis.
type RecommendedDrug struct {
	DiagnosisID uint64       `gorm:"primaryKey;autoIncrement:false" json:"diagnosis_id"`
	DrugID      uint64       `gorm:"primaryKey;autoIncrement:false;index" json:"drug_id"`
	Drug        catalog.Drug `gorm:"foreignKey:DrugID;constraint:OnDelete:RESTRICT" json:"-"`
	Quantity    int          `gorm:"not null;default:1" json:"quantity"`
	Position    int          `gorm:"not null;default:0" json:"position"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (RecommendedDrug) TableName() string { return "recommended_drugs" }

// DrugMention is a drug named by the provider, before catalog resolution.
type DrugMention struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type ParsedDiagnosis struct {
	Diagnosis string
	Drugs     []DrugMention
	Strategy  string
}

// ResolvedRecommendation is a mention matched to a catalog drug.
type ResolvedRecommendation struct {
	DrugID   uint64
	Quantity int
	Drug     catalog.Drug
}

type RecommendedDrugView struct {
	ID           uint64  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Picture      string  `json:"picture"`
	Manufacturer string  `json:"manufacturer"`
	Quantity     int     `json:"quantity"`
}

type Result struct {
	DiagnosisID      uint64                `json:"diagnosis_id"`
	Diagnosis        string                `json:"diagnosis"`
	RecommendedDrugs []RecommendedDrugView `json:"recommended_drugs"`
	Raw              string                `json:"raw,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

func newView(d catalog.Drug, quantity int) RecommendedDrugView {
	return RecommendedDrugView{
		ID:           d.ID,
		Name:         d.GenericName,
		Price:        d.Price,
		Picture:      d.Picture,
		Manufacturer: d.ManufacturerName(),
		Quantity:     quantity,
	}
}
