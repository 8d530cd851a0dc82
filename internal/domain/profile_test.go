package domain

import (
	"testing"

	"github.com/AlekSi/pointer"
	"github.com/stretchr/testify/assert"
)

func TestSplitPlace(t *testing.T) {
	city, country := SplitPlace("Москва, Россия")
	assert.Equal(t, "Москва", city)
	assert.Equal(t, "Россия", country)

	city, country = SplitPlace("Санкт-Петербург")
	assert.Equal(t, "Санкт-Петербург", city)
	assert.Empty(t, country)

	city, country = SplitPlace("  Paris ,  France ")
	assert.Equal(t, "Paris", city)
	assert.Equal(t, "France", country)
}

func TestProfileIsComplete(t *testing.T) {
	var nilProfile *Profile
	assert.False(t, nilProfile.IsComplete())

	p := &Profile{TelegramUserID: 1}
	assert.False(t, p.IsComplete())

	p.BirthName = pointer.To("Анна")
	p.BirthDate = pointer.To("01.01.2000")
	p.BirthTime = pointer.To("10:00")
	assert.False(t, p.IsComplete())

	p.BirthPlace = pointer.To("Париж, Франция")
	assert.True(t, p.IsComplete())
}
