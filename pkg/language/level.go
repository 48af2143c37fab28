package language

import (
	"fmt"
	"strings"

	"github.com/harun/korli/pkg/errkind"
)

// Levels are the CEFR proficiency levels a student can declare.
var Levels = []string{"A1", "A2", "B1", "B2", "C1", "C2"}

// ValidateLevel checks level against Levels.
func ValidateLevel(level string) error {
	for _, l := range Levels {
		if level == l {
			return nil
		}
	}
	return errkind.Invalid("level", "student level %q must be one of %s", level, strings.Join(Levels, ", "))
}

// IsBeginner reports whether the opening turn should skip the topic prompt.
func IsBeginner(level string) bool {
	return level == "A1" || level == "A2"
}

// Genders accepted for tutor and student.
var Genders = []string{"male", "female"}

func ValidateGender(field, gender string) error {
	if gender == "male" || gender == "female" {
		return nil
	}
	return errkind.Invalid(field, "%s %q must be one of %s", field, gender, fmt.Sprint(Genders))
}
