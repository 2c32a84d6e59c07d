package marks

import (
	"math"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-marks/core"
)

var (
	uniqueStudentsTag  = "uniquestudents"
	uniqueStudentsText = "each student may appear only once per batch"

	orderingTag  = "ordering"
	orderingText = "unknown ordering field"

	finiteTag  = "finite"
	finiteText = "{0} must be a finite number"
)

// InitValidators registers the marks validations. core.InitValidators must run first.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(batchStructValidation, NewMarks{})
	core.RegisterCustomTranslation(validate, translator, uniqueStudentsTag, uniqueStudentsText)
	_ = validate.RegisterValidation(finiteTag, finiteValidation)
	core.RegisterCustomTranslation(validate, translator, finiteTag, finiteText)
}

// finiteValidation rejects NaN and the infinities, which no score comparison can order.
func finiteValidation(fl validator.FieldLevel) bool {
	f := fl.Field().Float()
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// batchStructValidation checks that a student appears at most once in a batch:
// concurrent strategies give no order between two writes of the same key.
func batchStructValidation(sl validator.StructLevel) {
	nms, ok := sl.Current().Interface().(NewMarks)
	if !ok {
		return
	}
	seen := make(map[string]struct{}, len(nms.Marks))
	for _, in := range nms.Marks {
		if in.StudentID == "" {
			continue // reported on the element itself
		}
		if _, dup := seen[in.StudentID]; dup {
			sl.ReportError(nms.Marks, "marks", "Marks", uniqueStudentsTag, "")
			return
		}
		seen[in.StudentID] = struct{}{}
	}
}

func validateOrdering(ordering []core.DBOrdering) error {
	for _, ord := range ordering {
		var known bool
		for _, fld := range OrderingFields {
			if ord.Field == fld {
				known = true
				break
			}
		}
		if !known {
			return core.NewValidationError(nil, core.FieldError{Field: orderingTag, Error: orderingText + ": " + ord.Field})
		}
	}
	return nil
}

// prefixFields namespaces the field errors of a batch element, eg. "marks[2].marks_obtained".
func prefixFields(err error, prefix string) error {
	vErr, ok := err.(*core.ValidationError)
	if !ok {
		return err
	}
	flds := make([]core.FieldError, 0, len(vErr.Fields))
	for _, fld := range vErr.Fields {
		flds = append(flds, core.FieldError{Field: prefix + "." + fld.Field, Error: fld.Error})
	}
	return core.NewValidationError(vErr.Err, flds...)
}
