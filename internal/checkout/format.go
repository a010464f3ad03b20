package checkout

import "strings"

// FormatCardNumber keeps up to 16 digits and groups them in fours: "4111 1111 1111 1111".
func FormatCardNumber(raw string) string {
	digits := onlyDigits(raw, 16)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatExpiry keeps up to 4 digits and inserts the slash once the month is complete: "12/29".
func FormatExpiry(raw string) string {
	digits := onlyDigits(raw, 4)
	if len(digits) < 3 {
		return digits
	}
	return digits[:2] + "/" + digits[2:]
}

func onlyDigits(raw string, max int) string {
	var b strings.Builder
	for _, r := range raw {
		if r < '0' || r > '9' {
			continue
		}
		if b.Len() == max {
			break
		}
		b.WriteRune(r)
	}
	return b.String()
}
