package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)
	chatIDRe   = regexp.MustCompile(`^[0-9]{1,20}$`)
	binRe      = regexp.MustCompile(`^[0-9]{6}$`)
)

// v is the package-level singleton validator. It is initialised once at
// package load time. Any custom type registrations must be made during init()
// before the first call to Struct.
var v = validator.New()

func init() {
	mustRegister("username", usernameRe)
	mustRegister("chatid", chatIDRe)
	mustRegister("bin6", binRe)
}

func mustRegister(tag string, re *regexp.Regexp) {
	if err := v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}); err != nil {
		panic("register validation " + tag + ": " + err.Error())
	}
}

// Struct validates the given struct using its validate tags.
// Returns a human-readable error string or nil.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, describe(fe))
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "username":
		return fmt.Sprintf("field '%s' must be 3-32 letters, digits or underscores", fe.Field())
	case "chatid":
		return fmt.Sprintf("field '%s' must be a numeric Telegram chat id", fe.Field())
	case "bin6":
		return fmt.Sprintf("field '%s' must be exactly 6 digits", fe.Field())
	case "min", "max":
		return fmt.Sprintf("field '%s' failed '%s=%s'", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag())
}
