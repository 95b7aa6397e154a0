package main

import (
	"log"
	"strconv"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// daterange caps the span between the StartDate sibling and the field at
// the number of days given as the tag parameter.
var daterange validator.Func = func(fl validator.FieldLevel) bool {
	end, ok := fl.Field().Interface().(time.Time)
	if !ok {
		return false
	}
	start, ok := fl.Parent().FieldByName("StartDate").Interface().(time.Time)
	if !ok {
		return false
	}
	days, err := strconv.Atoi(fl.Param())
	if err != nil {
		log.Printf("daterange: bad param %q\n", fl.Param())
		return false
	}
	return end.Sub(start) <= time.Duration(days)*24*time.Hour
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("daterange", daterange)
	}
}
