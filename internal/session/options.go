package session

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/alec-deason/cascade/internal/errs"
	"github.com/alec-deason/cascade/internal/model"
)

// Options are the engine options a session writes to the option table.
// A nil field is left to the engine's default. Field names in YAML and in
// the option table are the engine's option names.
type Options struct {
	RandomSeed                   *int     `yaml:"random_seed,omitempty" json:"random_seed,omitempty" validate:"omitempty,gte=0"`
	OdeStepSize                  *float64 `yaml:"ode_step_size,omitempty" json:"ode_step_size,omitempty" validate:"omitempty,gt=0"`
	QuasiFixed                   *bool    `yaml:"quasi_fixed,omitempty" json:"quasi_fixed,omitempty"`
	MaxNumIterFixed              *int     `yaml:"max_num_iter_fixed,omitempty" json:"max_num_iter_fixed,omitempty" validate:"omitempty,gte=-1"`
	MaxNumIterRandom             *int     `yaml:"max_num_iter_random,omitempty" json:"max_num_iter_random,omitempty" validate:"omitempty,gte=0"`
	PrintLevelFixed              *int     `yaml:"print_level_fixed,omitempty" json:"print_level_fixed,omitempty" validate:"omitempty,min=0,max=12"`
	PrintLevelRandom             *int     `yaml:"print_level_random,omitempty" json:"print_level_random,omitempty" validate:"omitempty,min=0,max=12"`
	ToleranceFixed               *float64 `yaml:"tolerance_fixed,omitempty" json:"tolerance_fixed,omitempty" validate:"omitempty,gt=0"`
	ToleranceRandom              *float64 `yaml:"tolerance_random,omitempty" json:"tolerance_random,omitempty" validate:"omitempty,gt=0"`
	DerivativeTestFixed          *string  `yaml:"derivative_test_fixed,omitempty" json:"derivative_test_fixed,omitempty" validate:"omitempty,oneof=none first-order second-order trace-fixed adaptive"`
	DerivativeTestRandom         *string  `yaml:"derivative_test_random,omitempty" json:"derivative_test_random,omitempty" validate:"omitempty,oneof=none first-order second-order"`
	BoundRandom                  *float64 `yaml:"bound_random,omitempty" json:"bound_random,omitempty" validate:"omitempty,gte=0"`
	BoundFracFixed               *float64 `yaml:"bound_frac_fixed,omitempty" json:"bound_frac_fixed,omitempty" validate:"omitempty,gte=0,lt=0.5"`
	RateCase                     *string  `yaml:"rate_case,omitempty" json:"rate_case,omitempty" validate:"omitempty,oneof=iota_zero_rho_zero iota_pos_rho_zero iota_zero_rho_pos iota_pos_rho_pos"`
	AgeAvgSplit                  *string  `yaml:"age_avg_split,omitempty" json:"age_avg_split,omitempty" validate:"omitempty,numberlist"`
	ZeroSumRandom                *string  `yaml:"zero_sum_random,omitempty" json:"zero_sum_random,omitempty" validate:"omitempty,ratelist"`
	DataExtraColumns             *string  `yaml:"data_extra_columns,omitempty" json:"data_extra_columns,omitempty"`
	AvgintExtraColumns           *string  `yaml:"avgint_extra_columns,omitempty" json:"avgint_extra_columns,omitempty"`
	WarnOnStderr                 *bool    `yaml:"warn_on_stderr,omitempty" json:"warn_on_stderr,omitempty"`
	LimitedMemoryMaxHistoryFixed *int     `yaml:"limited_memory_max_history_fixed,omitempty" json:"limited_memory_max_history_fixed,omitempty" validate:"omitempty,gt=0"`
}

// optionsValidate checks Options struct tags. Field errors name the engine
// option rather than the Go field.
var optionsValidate *validator.Validate

func init() {
	optionsValidate = validator.New()
	optionsValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return optionName(f)
	})
	_ = optionsValidate.RegisterValidation("numberlist", validateNumberList)
	_ = optionsValidate.RegisterValidation("ratelist", validateRateList)
}

func optionName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	return name
}

// validateNumberList accepts a space-separated list of numbers.
func validateNumberList(fl validator.FieldLevel) bool {
	for _, s := range strings.Fields(fl.Field().String()) {
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return false
		}
	}
	return true
}

// validateRateList accepts a space-separated list of rate names.
func validateRateList(fl validator.FieldLevel) bool {
	for _, s := range strings.Fields(fl.Field().String()) {
		if _, err := model.ParseRate(s); err != nil {
			return false
		}
	}
	return true
}

// Validate checks every set option, failing with a ValidationError that
// names the first offending option.
func (o Options) Validate() error {
	err := optionsValidate.Struct(o)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return errs.Invalid(fe.Field(), "value %v fails %s", reflect.Indirect(reflect.ValueOf(fe.Value())), fe.Tag())
	}
	return err
}

// Merge returns o with every option set in other replacing o's.
func (o Options) Merge(other Options) Options {
	out := o
	dst := reflect.ValueOf(&out).Elem()
	src := reflect.ValueOf(other)
	for i := 0; i < src.NumField(); i++ {
		if f := src.Field(i); !f.IsNil() {
			dst.Field(i).Set(f)
		}
	}
	return out
}

// Map renders the set options as option-table rows.
func (o Options) Map() map[string]string {
	out := make(map[string]string)
	v := reflect.ValueOf(o)
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.IsNil() {
			continue
		}
		var s string
		switch x := f.Elem().Interface().(type) {
		case int:
			s = strconv.Itoa(x)
		case float64:
			s = strconv.FormatFloat(x, 'g', -1, 64)
		case bool:
			s = strconv.FormatBool(x)
		case string:
			s = x
		}
		out[optionName(t.Field(i))] = s
	}
	return out
}

// OptionNames lists every recognized option.
func OptionNames() []string {
	t := reflect.TypeOf(Options{})
	out := make([]string, t.NumField())
	for i := range out {
		out[i] = optionName(t.Field(i))
	}
	return out
}

// ParseOption sets one option from its engine name and text value.
func (o *Options) ParseOption(name, value string) error {
	v := reflect.ValueOf(o).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if optionName(t.Field(i)) != name {
			continue
		}
		f := v.Field(i)
		elem := reflect.New(f.Type().Elem())
		switch elem.Elem().Kind() {
		case reflect.Int:
			n, err := strconv.Atoi(value)
			if err != nil {
				return errs.Invalid(name, "%q is not an integer", value)
			}
			elem.Elem().SetInt(int64(n))
		case reflect.Float64:
			x, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return errs.Invalid(name, "%q is not a number", value)
			}
			elem.Elem().SetFloat(x)
		case reflect.Bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return errs.Invalid(name, "%q is not a boolean", value)
			}
			elem.Elem().SetBool(b)
		default:
			elem.Elem().SetString(value)
		}
		f.Set(elem)
		return nil
	}
	return errs.Invalid(name, "unknown option")
}
