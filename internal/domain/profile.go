package domain

import (
	"strings"
	"time"
)

// Profile is the durable birth-data record for one user.
// Birth fields are entered as free text and stored exactly as accepted,
// so a date shown back to the user never changes shape.
type Profile struct {
	TelegramUserID int64     `db:"telegram_user_id"`
	DisplayName    string    `db:"display_name"`
	BirthName      *string   `db:"birth_name"`
	BirthDate      *string   `db:"birth_date"`
	BirthTime      *string   `db:"birth_time"`
	BirthPlace     *string   `db:"birth_place"`
	BirthCity      *string   `db:"birth_city"`
	BirthCountry   *string   `db:"birth_country"`
	Paid           bool      `db:"paid"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// IsComplete reports whether all birth fields were collected.
func (p *Profile) IsComplete() bool {
	return p != nil &&
		p.BirthName != nil && *p.BirthName != "" &&
		p.BirthDate != nil && *p.BirthDate != "" &&
		p.BirthTime != nil && *p.BirthTime != "" &&
		p.BirthPlace != nil && *p.BirthPlace != ""
}

// SplitPlace derives city and country from a free-text place.
// "Москва, Россия" -> ("Москва", "Россия"); without a comma the whole
// string is the city and country is empty.
func SplitPlace(place string) (city string, country string) {
	parts := strings.SplitN(place, ",", 2)
	city = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		country = strings.TrimSpace(parts[1])
	}
	return city, country
}
