package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxJSONBody bounds request bodies of the JSON endpoints.
const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SetFieldDTO edits one field of an open candidate.
type SetFieldDTO struct {
	Field string `json:"field" validate:"required"`
	Value string `json:"value"`
}

// ResetFieldDTO restores one field from the original cells.
type ResetFieldDTO struct {
	Field string `json:"field" validate:"required"`
}

// SubmitDTO optionally replaces the whole row before submitting.
type SubmitDTO struct {
	Cells []string `json:"cells" validate:"omitempty,min=1"`
}

// ImportRowDTO is a single row with the header it is laid out by.
type ImportRowDTO struct {
	Headers []string `json:"headers" validate:"required,min=1,dive,required"`
	Cells   []string `json:"cells" validate:"required,min=1"`
}

// validationMessages maps each invalid field to a readable message.
func validationMessages(dto any) (map[string]string, bool) {
	messages := map[string]string{}
	err := validate.Struct(dto)
	if err == nil {
		return messages, true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		messages["_"] = err.Error()
		return messages, false
	}
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			messages[fe.Field()] = fe.Field() + " is required"
		case "min":
			messages[fe.Field()] = fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
		default:
			messages[fe.Field()] = fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
		}
	}
	return messages, false
}

// decodeJSON reads and validates a JSON body. An empty body decodes to the
// zero DTO when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return fmt.Errorf("invalid request body: %w", err)
		}
	}

	if messages, ok := validationMessages(dst); !ok {
		keys := make([]string, 0, len(messages))
		for k := range messages {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = messages[k]
		}
		return fmt.Errorf("invalid request: %s", strings.Join(parts, "; "))
	}
	return nil
}
