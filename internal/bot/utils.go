package bot

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// Validation errors carry the user-facing message: the handler sends
// them verbatim as the retry prompt.
var (
	errEmptyName   = errors.New("Имя не может быть пустым. Пожалуйста, укажите имя")
	errDateFormat  = errors.New("Неверный формат. Введите дату в формате ДД.ММ.ГГГГ, например 15.03.1990")
	errDateDay     = errors.New("День должен быть от 1 до 31. Введите дату в формате ДД.ММ.ГГГГ")
	errDateMonth   = errors.New("Месяц должен быть от 1 до 12. Введите дату в формате ДД.ММ.ГГГГ")
	errDateYear    = errors.New("Год должен быть от 1900 до 2100. Введите дату в формате ДД.ММ.ГГГГ")
	errTimeFormat  = errors.New("Неверный формат. Введите время в формате ЧЧ:ММ, например 09:30")
	errTimeHour    = errors.New("Часы должны быть от 0 до 23. Введите время в формате ЧЧ:ММ")
	errTimeMinute  = errors.New("Минуты должны быть от 0 до 59. Введите время в формате ЧЧ:ММ")
	errPlaceShort  = errors.New("Укажите место рождения подробнее, минимум 3 символа. Например: Москва, Россия")
	errPlaceDigits = errors.New("Место рождения не может состоять только из цифр. Например: Москва, Россия")
)

func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errEmptyName
	}

	return nil
}

// ValidateDate checks ДД.ММ.ГГГГ with each component range-checked
// independently. Calendar validity is deliberately not checked, so
// 31.02.2000 passes.
func ValidateDate(date string) error {
	parts := strings.Split(strings.TrimSpace(date), ".")
	if len(parts) != 3 || len(parts[0]) != 2 || len(parts[1]) != 2 || len(parts[2]) != 4 {
		return errDateFormat
	}

	day, err := strconv.Atoi(parts[0])
	if err != nil {
		return errDateFormat
	}

	month, err := strconv.Atoi(parts[1])
	if err != nil {
		return errDateFormat
	}

	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return errDateFormat
	}

	if day < 1 || day > 31 {
		return errDateDay
	}

	if month < 1 || month > 12 {
		return errDateMonth
	}

	if year < 1900 || year > 2100 {
		return errDateYear
	}

	return nil
}

func ValidateTime(t string) error {
	parts := strings.Split(strings.TrimSpace(t), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return errTimeFormat
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return errTimeFormat
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return errTimeFormat
	}

	if hour < 0 || hour > 23 {
		return errTimeHour
	}

	if minute < 0 || minute > 59 {
		return errTimeMinute
	}

	return nil
}

func ValidatePlace(place string) error {
	trimmed := strings.TrimSpace(place)
	if len([]rune(trimmed)) < 3 {
		return errPlaceShort
	}

	onlyDigits := true
	for _, r := range trimmed {
		if !unicode.IsDigit(r) {
			onlyDigits = false
			break
		}
	}

	if onlyDigits {
		return errPlaceDigits
	}

	return nil
}
