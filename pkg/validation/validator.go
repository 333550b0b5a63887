package validation

import (
	"errors"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
	ginOnce  sync.Once

	idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]{8,100}$`)
	couponCodePattern     = regexp.MustCompile(`^[A-HJKMNP-Z2-9]{4}(-[A-HJKMNP-Z2-9]{4}){3}$`)
)

// Ledger-specific enumerations checked by the custom tags
var (
	EventTypes = []string{
		"habit_completion", "workout_completion", "task_completion", "goal_completion",
		"streak_bonus", "admin_award", "redeem_coupon", "correction",
	}
	ProofTypes = []string{"internal", "attestation", "third_party"}
)

// Validator returns the shared validator with the custom tags registered
func Validator() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
		validate.SetTagName("binding")
		registerCustom(validate)
	})
	return validate
}

// RegisterWithGin installs the custom tags on gin's binding validator. Safe to call repeatedly.
func RegisterWithGin() {
	ginOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			registerCustom(v)
		}
	})
}

func registerCustom(v *validator.Validate) {
	_ = v.RegisterValidation("event_type", oneOf(EventTypes))
	_ = v.RegisterValidation("proof_type", oneOf(ProofTypes))
	_ = v.RegisterValidation("idempotency_key", func(fl validator.FieldLevel) bool {
		return idempotencyKeyPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("coupon_code", func(fl validator.FieldLevel) bool {
		return couponCodePattern.MatchString(fl.Field().String())
	})
}

func oneOf(values []string) validator.Func {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return func(fl validator.FieldLevel) bool {
		_, ok := set[fl.Field().String()]
		return ok
	}
}

// ValidateStruct validates s and converts failures into a ValidationError
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if errors.As(err, &errs) {
		return NewValidationError(errs)
	}
	return err
}
