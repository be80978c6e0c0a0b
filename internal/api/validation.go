package api

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/sscm-labs/sscm-relay/internal/deviceid"
	"github.com/sscm-labs/sscm-relay/internal/pairing"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator with the SSCM tags:
//
//	sscm_device  any device id (main board or camera)
//	sscm_main    a main board id
//	pairing_code six decimal digits
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		//nolint:errcheck // tags are static and non-empty
		validate.RegisterValidation("sscm_device", func(fl validator.FieldLevel) bool {
			return deviceid.Valid(fl.Field().String())
		})
		//nolint:errcheck // tags are static and non-empty
		validate.RegisterValidation("sscm_main", func(fl validator.FieldLevel) bool {
			id, err := deviceid.Parse(fl.Field().String())
			return err == nil && id.IsMain()
		})
		//nolint:errcheck // tags are static and non-empty
		validate.RegisterValidation("pairing_code", func(fl validator.FieldLevel) bool {
			return pairing.ValidCode(fl.Field().String())
		})
	})
	return validate
}

// decodeBody decodes and validates a JSON request body, writing the error
// response itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	if err := getValidator().Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "sscm_device", "sscm_main":
			msgs = append(msgs, fmt.Sprintf("%s: invalid device ID format", fe.Field()))
		case "pairing_code":
			msgs = append(msgs, fmt.Sprintf("%s: pairing code must be 6 digits", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
