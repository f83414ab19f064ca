package handler

import (
	"reflect"
	"sync"

	"github.com/SergeiKhy/fairlink/internal/service"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// registerValidators adds the binding tags used by models:
// shortkey (service.ValidShortKey) and destinations (non-empty list
// accepted by service.ValidateURL).
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("shortkey", validateShortKey)
		_ = v.RegisterValidation("destinations", validateDestinations)
	})
}

func validateShortKey(fl validator.FieldLevel) bool {
	return service.ValidShortKey(fl.Field().String())
}

func validateDestinations(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Slice || field.Len() == 0 {
		return false
	}
	for i := 0; i < field.Len(); i++ {
		if service.ValidateURL(field.Index(i).String()) != nil {
			return false
		}
	}
	return true
}
