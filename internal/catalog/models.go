package catalog

import "time"

// Manufacturer and Drug mirror the admin panel's catalog tables. This
// service only reads them.
type Manufacturer struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Manufacturer) TableName() string { return "manufacturers" }

type Drug struct {
	ID             uint64       `gorm:"primaryKey;autoIncrement" json:"id"`
	GenericName    string       `gorm:"type:varchar(255);index;not null" json:"generic_name"`
	Price          float64      `gorm:"type:decimal(10,2);not null;default:0" json:"price"`
	Picture        string       `gorm:"type:varchar(512)" json:"picture"`
	ManufacturerID *uint64      `gorm:"index" json:"manufacturer_id"`
	Manufacturer   Manufacturer `gorm:"foreignKey:ManufacturerID" json:"manufacturer"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (Drug) TableName() string { return "drugs" }

func (d Drug) ManufacturerName() string {
	return d.Manufacturer.Name
}
