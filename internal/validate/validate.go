package validate

// Thin wrapper around go-playground/validator shared by config loading and
// scan settings. Custom tags registered here:
//
//   symbology  - a recognised symbology identifier (see scan.Symbology)
//   capformat  - a camera input format understood by the capture worker

import (
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validatorInst *validator.Validate

	tagMu     sync.Mutex
	extraTags = map[string]validator.Func{}
)

func get() *validator.Validate {
	validatorOnce.Do(func() {
		validatorInst = validator.New(validator.WithRequiredStructEnabled())
		_ = validatorInst.RegisterValidation("capformat", func(fl validator.FieldLevel) bool {
			switch strings.ToLower(fl.Field().String()) {
			case "mjpeg", "yuyv", "auto":
				return true
			}
			return false
		})
		tagMu.Lock()
		for tag, fn := range extraTags {
			_ = validatorInst.RegisterValidation(tag, fn)
		}
		tagMu.Unlock()
	})
	return validatorInst
}

// RegisterTag makes a custom tag available to Struct and Var. Packages that
// own a vocabulary (symbology names, for instance) register it from init so
// the tag exists before the first validation.
func RegisterTag(tag string, fn func(value string) bool) {
	vf := func(fl validator.FieldLevel) bool {
		return fn(fl.Field().String())
	}
	tagMu.Lock()
	extraTags[tag] = vf
	tagMu.Unlock()
	if validatorInst != nil {
		_ = validatorInst.RegisterValidation(tag, vf)
	}
}

// Struct validates a struct using the shared validator instance.
func Struct(v any) error {
	return get().Struct(v)
}

// Var validates a single variable against the provided tag constraints.
func Var(field any, tag string) error {
	return get().Var(field, tag)
}
